// Package grammar turns free-form technician messages into structured
// readings. Classification is conservative: a segment yields a reading only
// when it matches a micro-grammar with an explicit unit or keyword, so
// prose like "rail is stable" is never stored as a fact. Unmatched prose
// is passed through untouched for the LLM collaborator.
package grammar

import (
	"regexp"
	"strings"

	"boardbrain/internal/netname"
)

// Classification of a whole message.
type Classification string

const (
	ClassMeasurement Classification = "measurement"
	ClassMixed       Classification = "mixed"
	ClassQuestion    Classification = "question"
	ClassUnknown     Classification = "unknown"
)

// ReadingType names the micro-grammar that matched.
type ReadingType string

const (
	TypeVoltage    ReadingType = "voltage"
	TypeCurrent    ReadingType = "current"
	TypeResistance ReadingType = "resistance"
	TypeFrequency  ReadingType = "frequency"
	TypeDiode      ReadingType = "diode"
	TypeContinuity ReadingType = "continuity"
	TypePortVI     ReadingType = "port_vi"
	TypeComponent  ReadingType = "component"
)

// PlanImpact marks whether an accepted reading may trigger plan
// recomputation.
type PlanImpact string

const (
	ImpactEligible PlanImpact = "eligible"
	ImpactNone     PlanImpact = "none"
)

// PortUSBC is the pseudo-net recorded for combined USB-C port readings.
const PortUSBC = "PORT:USBC"

// Reading is one parsed measurement.
type Reading struct {
	Net     string // canonical net, PortUSBC, or fuse refdes
	NetRaw  string
	Type    ReadingType
	Value   string
	Unit    string
	Raw     string
	KeyHint string // CHECK_ key the technician used, if any
	Rule    string
	Impact  PlanImpact
	Refdes  string // component readings only
	Pin     string
}

// Rejection explains why a measurement-looking segment stored nothing.
type Rejection struct {
	Segment string
	Reason  string
}

// Rejection reasons.
const (
	ReasonMissingUnit     = "missing_unit"
	ReasonQuestionNoStore = "question_no_store"
	ReasonPortMentionOnly = "port_mention_only"
)

// Result is the full classification of one message.
type Result struct {
	Classification Classification
	Readings       []Reading // nets validated against the known set
	Invalid        []Reading // parsed but net not in the known set
	Rejected       []Rejection
	Prose          []string // unmatched segments, forwarded verbatim
}

var (
	fusePattern  = regexp.MustCompile(`(?i)\bF\d{2,5}\b`)
	usbcPattern  = regexp.MustCompile(`(?i)\busb-?c\b`)
	questionWord = regexp.MustCompile(`(?i)\?|^\s*(what|why|how|when|where|is|are|do|does|can|should)\b`)

	voltValue = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]+)?)\s*(mv|v|volt|volts)\b`)
	currValue = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]+)?)\s*(ma|a|amp|amps)\b`)
	resValue  = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]+)?)\s*(ohm|ohms|kohm|kohms|mohm|mohms|Ω|kΩ)`)
	resKword  = regexp.MustCompile(`(?i)\b(ohm|ohms|resistance)\b.*?([0-9]+(?:\.[0-9]+)?)`)
	freqValue = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]+)?)\s*(hz|khz|mhz)\b`)
	diodeKw   = regexp.MustCompile(`(?i)\b(diode|dmode)\b\s*[:=]?\s*([0-9]+(?:\.[0-9]+)?)\b`)
	r2gKw     = regexp.MustCompile(`(?i)\b(r2g|r\s*to\s*gnd|r\s*->\s*gnd)\b`)
	r2gValue  = regexp.MustCompile(`(?i)\b(?:r2g|r\s*to\s*gnd)\b\s*[:=]?\s*([0-9]+(?:\.[0-9]+)?)\s*(ohm|ohms|kohm|kohms|mohm|mohms)?`)

	compPin = regexp.MustCompile(`(?i)\b([A-Z]{1,3}[0-9]{1,5})\.([A-Z0-9]+)\b\s*[:=]?\s*([0-9]+(?:\.[0-9]+)?)\s*(mv|v|ma|a|ohm|ohms|kohm|kohms|mohm|mohms|hz|khz|mhz)\b`)

	anyValue = `[0-9]+(?:\.[0-9]+)?`
	anyUnit  = `(?:mv|v|volt|volts|ma|a|amp|amps|ohm|ohms|kohm|kohms|mohm|mohms|Ω|kΩ|hz|khz|mhz)`
)

// Classify parses a message against the known net set. Net readings whose
// canonical net is not in knownNets land in Invalid for the caller to run
// through the guardrail; nothing in Invalid has been stored.
func Classify(text string, knownNets map[string]bool) Result {
	var res Result
	for _, seg := range splitSegments(text) {
		parseSegment(seg, knownNets, &res)
	}

	hasReadings := len(res.Readings)+len(res.Invalid) > 0
	hasQuestion := questionWord.MatchString(text)
	switch {
	case hasQuestion && !hasReadings:
		res.Classification = ClassQuestion
	case hasReadings && (hasQuestion || len(res.Prose) > 0):
		res.Classification = ClassMixed
	case hasReadings:
		res.Classification = ClassMeasurement
	default:
		res.Classification = ClassUnknown
	}
	return res
}

// splitSegments breaks a message on newlines and commas.
func splitSegments(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, seg := range strings.Split(line, ",") {
			if s := strings.TrimSpace(seg); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func parseSegment(seg string, knownNets map[string]bool, res *Result) {
	// Component pin readings are matched first; a refdes.pin token never
	// collides with the net grammar.
	if m := compPin.FindStringSubmatch(seg); m != nil {
		res.Readings = append(res.Readings, Reading{
			Net:    "",
			NetRaw: m[1] + "." + m[2],
			Type:   TypeComponent,
			Value:  m[3],
			Unit:   strings.ToLower(m[4]),
			Raw:    seg,
			Rule:   "component_pin",
			Impact: ImpactNone,
			Refdes: strings.ToUpper(m[1]),
			Pin:    strings.ToUpper(m[2]),
		})
		return
	}

	rawNet, rawTok, keyHint := findNetToken(seg)
	canon := ""
	if rawNet != "" {
		canon = netname.Canonical(rawNet)
	}

	// Fuse continuity statements carry no net.
	if fuse := fusePattern.FindString(seg); fuse != "" && rawNet == "" {
		if status := continuityStatus(seg); status != "" {
			res.Readings = append(res.Readings, Reading{
				Net:    strings.ToUpper(fuse),
				NetRaw: fuse,
				Type:   TypeContinuity,
				Value:  status,
				Raw:    seg,
				Rule:   "continuity",
				Impact: ImpactNone,
			})
			return
		}
	}

	// USB-C combined port reading: both numbers fold into ONE reading.
	if usbcPattern.MatchString(seg) {
		mv := voltValue.FindStringSubmatch(seg)
		ma := currValue.FindStringSubmatch(seg)
		if mv != nil && ma != nil {
			res.Readings = append(res.Readings, Reading{
				Net:    PortUSBC,
				NetRaw: "USB-C",
				Type:   TypePortVI,
				Value:  mv[1] + "V " + ma[1] + "A",
				Raw:    seg,
				Rule:   "port_vi",
				Impact: ImpactEligible,
			})
		} else {
			res.Rejected = append(res.Rejected, Rejection{Segment: seg, Reason: ReasonPortMentionOnly})
		}
		return
	}

	segQuestion := questionWord.MatchString(seg)
	syntax := hasMeasureSyntax(seg, rawTok)
	if segQuestion && !syntax {
		if rawNet != "" {
			res.Rejected = append(res.Rejected, Rejection{Segment: seg, Reason: ReasonQuestionNoStore})
		} else {
			res.Prose = append(res.Prose, seg)
		}
		return
	}

	if rawNet == "" {
		res.Prose = append(res.Prose, seg)
		return
	}

	reading := func(t ReadingType, value, unit, rule string) {
		r := Reading{
			Net:     canon,
			NetRaw:  rawNet,
			Type:    t,
			Value:   value,
			Unit:    unit,
			Raw:     seg,
			KeyHint: keyHint,
			Rule:    rule,
			Impact:  ImpactEligible,
		}
		if knownNets[canon] {
			res.Readings = append(res.Readings, r)
		} else {
			res.Invalid = append(res.Invalid, r)
		}
	}

	switch {
	case syntax && diodeKw.MatchString(seg):
		m := diodeKw.FindStringSubmatch(seg)
		reading(TypeDiode, m[2], "V", "diode")
	case syntax && resValue.MatchString(seg):
		m := resValue.FindStringSubmatch(seg)
		reading(TypeResistance, m[1], strings.ToLower(m[2]), "resistance")
	case syntax && r2gKw.MatchString(seg):
		if m := r2gValue.FindStringSubmatch(seg); m != nil {
			unit := strings.ToLower(m[2])
			if unit == "" {
				unit = "ohm"
			}
			reading(TypeResistance, m[1], unit, "r2g")
		} else {
			res.Rejected = append(res.Rejected, Rejection{Segment: seg, Reason: ReasonMissingUnit})
		}
	case syntax && resKword.MatchString(seg):
		m := resKword.FindStringSubmatch(seg)
		reading(TypeResistance, m[2], "ohm", "resistance_keyword")
	case syntax && voltValue.MatchString(seg):
		m := voltValue.FindStringSubmatch(seg)
		reading(TypeVoltage, m[1], strings.ToLower(m[2]), "voltage")
	case syntax && currValue.MatchString(seg):
		m := currValue.FindStringSubmatch(seg)
		reading(TypeCurrent, m[1], strings.ToLower(m[2]), "current")
	case syntax && freqValue.MatchString(seg):
		m := freqValue.FindStringSubmatch(seg)
		reading(TypeFrequency, m[1], strings.ToLower(m[2]), "frequency")
	case segQuestion:
		res.Rejected = append(res.Rejected, Rejection{Segment: seg, Reason: ReasonQuestionNoStore})
	default:
		res.Rejected = append(res.Rejected, Rejection{Segment: seg, Reason: ReasonMissingUnit})
	}
}

// findNetToken locates the net a segment talks about: a CHECK_-style key
// takes priority over a bare net token. rawTok is the full matched text,
// used for syntax checks against the segment.
func findNetToken(seg string) (rawNet, rawTok, keyHint string) {
	if m := netname.KeyPattern.FindStringSubmatch(seg); m != nil {
		base := m[2]
		return base, m[0], "CHECK_" + strings.ToUpper(base) + strings.ToUpper(m[3])
	}
	if m := netname.NetPattern.FindString(seg); m != "" {
		canon := netname.Canonical(m)
		if strings.HasPrefix(canon, "CHECK_") {
			return "", "", ""
		}
		return m, m, ""
	}
	return "", "", ""
}

var continuityWords = []struct {
	re     *regexp.Regexp
	status string
}{
	{regexp.MustCompile(`(?i)\bgood\b`), "good"},
	{regexp.MustCompile(`(?i)\bopen\b`), "open"},
	{regexp.MustCompile(`(?i)\bcontinuity\s*pass\b`), "pass"},
	{regexp.MustCompile(`(?i)\bno\s*beep\b`), "no_beep"},
}

func continuityStatus(seg string) string {
	for _, cw := range continuityWords {
		if cw.re.MatchString(seg) {
			return cw.status
		}
	}
	return ""
}

// hasMeasureSyntax reports whether the segment states a value for the net
// rather than merely mentioning it: either an explicit NET: / NET= form,
// an inline value with a unit right after the net, or a keyword grammar.
func hasMeasureSyntax(seg, rawTok string) bool {
	if rawTok == "" {
		return false
	}
	esc := regexp.QuoteMeta(rawTok)
	if regexp.MustCompile(`(?i)`+esc+`\s*[:=]\s*`).MatchString(seg) {
		return true
	}
	inline := regexp.MustCompile(`(?i)` + esc + `\s+(?:r2g|diode|dmode|ohms|resistance)?\s*` + anyValue + `\s*` + anyUnit + `\b`)
	if inline.MatchString(seg) {
		return true
	}
	if r2gKw.MatchString(seg) || diodeKw.MatchString(seg) {
		return true
	}
	return false
}
