package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"boardbrain/internal/netname"
)

// Sentinel lines bounding the machine-readable block in a plan body.
const (
	JSONBlockStart = "===REQUESTED_MEASUREMENTS_JSON==="
	JSONBlockEnd   = "===END_REQUESTED_MEASUREMENTS_JSON==="
)

// ErrNoJSONBlock means the plan body carries no sentinel-delimited block.
var ErrNoJSONBlock = errors.New("plan: no requested-measurements JSON block")

// ErrLegacyParse means the legacy KEY:/PROMPT: grammar yielded no valid
// items either.
var ErrLegacyParse = errors.New("plan: legacy requested-measurements parse failed")

// Item is one requested measurement attached to a plan.
type Item struct {
	Key    string
	Net    string
	Type   string
	Prompt string
	Hint   string
	Status string
}

// Item statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

var allowedTypes = map[string]bool{
	"voltage": true, "resistance": true, "diode": true,
	"current": true, "frequency": true, "continuity": true,
}

// keyDenylist rejects field labels that the legacy grammar would otherwise
// mistake for measurement keys.
var keyDenylist = map[string]bool{
	"PROMPT": true, "TYPE": true, "NET": true, "INFERENCE": true,
	"WHERE": true, "LOCATION": true, "HINT": true,
}

var reqKeyPattern = regexp.MustCompile(
	`(?i)^(?:CHECK_|VERIFY_|MEASURE_|TEST_)?([A-Z][A-Z0-9_.]*_[A-Z0-9_.]+|PP[A-Z0-9_.]+)(?:_(R2G|DIODE))?$`)

// ExtractJSONBlock returns the text between the sentinel lines. Only the
// delimited substring is ever considered; the surrounding document is never
// scanned for JSON.
func ExtractJSONBlock(body string) (string, error) {
	start := strings.Index(body, JSONBlockStart)
	if start < 0 {
		return "", ErrNoJSONBlock
	}
	rest := body[start+len(JSONBlockStart):]
	end := strings.Index(rest, JSONBlockEnd)
	if end < 0 {
		return "", ErrNoJSONBlock
	}
	return strings.TrimSpace(rest[:end]), nil
}

type jsonItem struct {
	Key    string `json:"key"`
	Net    string `json:"net"`
	Type   string `json:"type,omitempty"`
	Prompt string `json:"prompt"`
	Hint   string `json:"hint,omitempty"`
}

type jsonEnvelope struct {
	RequestedMeasurements []jsonItem `json:"requested_measurements"`
}

// ParseRequestedJSON strict-parses the sentinel block. Any malformed item,
// unknown field, disallowed type, or unknown net fails the WHOLE block so
// the caller falls back to the legacy grammar; a partially trusted plan is
// worse than none.
func ParseRequestedJSON(block string, knownNets map[string]bool) ([]Item, error) {
	dec := json.NewDecoder(strings.NewReader(block))
	dec.DisallowUnknownFields()
	var env jsonEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("requested-measurements JSON is malformed: %w", err)
	}

	items := make([]Item, 0, len(env.RequestedMeasurements))
	for i, raw := range env.RequestedMeasurements {
		key := strings.TrimSpace(raw.Key)
		net := netname.Canonical(raw.Net)
		mtype := strings.ToLower(strings.TrimSpace(raw.Type))
		prompt := strings.TrimSpace(raw.Prompt)
		hint := strings.TrimSpace(raw.Hint)
		if key == "" || net == "" || prompt == "" {
			return nil, fmt.Errorf("requested measurement %d is missing key, net, or prompt", i)
		}
		if mtype != "" && !allowedTypes[mtype] {
			return nil, fmt.Errorf("requested measurement %d has invalid type %q", i, mtype)
		}
		if !knownNets[net] {
			return nil, fmt.Errorf("requested measurement %d names unknown net %q", i, net)
		}
		normalized, _ := netname.NormalizeKey(key)
		if expected := "CHECK_" + net; normalized != expected &&
			!strings.HasPrefix(normalized, expected+"_") {
			normalized = expected
		}
		items = append(items, Item{
			Key:    normalized,
			Net:    net,
			Type:   mtype,
			Prompt: prompt,
			Hint:   hint,
			Status: StatusPending,
		})
	}
	return items, nil
}

var (
	legacyKey    = regexp.MustCompile(`\bKEY\s*:\s*([A-Za-z0-9_.\-]+)`)
	legacyPrompt = regexp.MustCompile(`\bPROMPT\s*:\s*(.+)`)
	legacyHint   = regexp.MustCompile(`\b(?:OPTIONAL\s+HINT|HINT|WHERE|LOCATION)\s*:\s*(.+)`)
	legacyNet    = regexp.MustCompile(`\bNET\s*:\s*([A-Za-z0-9_.\-]+)`)
	legacyType   = regexp.MustCompile(`\bTYPE\s*:\s*([A-Za-z0-9\-]+)`)
)

// ParseRequestedLegacy reads the older KEY:/PROMPT: line grammar. Items
// with a deny-listed or shapeless key, or a net the truth store does not
// know, are dropped; the parse fails only when nothing valid remains.
func ParseRequestedLegacy(body string, knownNets map[string]bool) ([]Item, error) {
	var items []Item
	var current Item
	flush := func() {
		if current.Key != "" && current.Prompt != "" {
			items = append(items, current)
		}
		current = Item{}
	}

	for _, line := range strings.Split(body, "\n") {
		if m := legacyKey.FindStringSubmatch(line); m != nil {
			flush()
			raw := strings.ToUpper(strings.TrimSpace(m[1]))
			if !keyDenylist[raw] && reqKeyPattern.MatchString(raw) {
				current.Key = raw
			}
		}
		if m := legacyPrompt.FindStringSubmatch(line); m != nil {
			current.Prompt = strings.TrimSpace(m[1])
		}
		if m := legacyHint.FindStringSubmatch(line); m != nil {
			current.Hint = strings.TrimSpace(m[1])
		}
		if m := legacyNet.FindStringSubmatch(line); m != nil {
			current.Net = netname.Canonical(m[1])
		}
		if m := legacyType.FindStringSubmatch(line); m != nil {
			current.Type = strings.ToLower(strings.TrimSpace(m[1]))
		}
	}
	flush()

	valid := items[:0]
	for _, item := range items {
		base := netname.BaseNet(item.Key)
		if base == "" || !knownNets[base] {
			continue
		}
		if item.Type != "" && !allowedTypes[item.Type] {
			item.Type = ""
		}
		item.Key, _ = netname.NormalizeKey(item.Key)
		item.Net = base
		item.Status = StatusPending
		valid = append(valid, item)
	}
	if len(valid) == 0 {
		return nil, ErrLegacyParse
	}
	return valid, nil
}
