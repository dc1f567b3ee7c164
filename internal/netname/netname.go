// Package netname holds the canonical net-name and measurement-key
// normalization rules shared by the parsers, the guardrail, and the plan
// synchronizer. Every net name that crosses a package boundary is expected
// to be in canonical form.
package netname

import (
	"regexp"
	"strings"
)

// NetPattern matches candidate net tokens in free text: PP-prefixed power
// rails or underscore-joined uppercase identifiers.
var NetPattern = regexp.MustCompile(`(?i)\b(?:PP[A-Z0-9_.]+|[A-Z][A-Z0-9_.]*_[A-Z0-9_.]+)\b`)

// RefdesPattern matches reference designators (TP303, C7522, U3100, FB1200...).
var RefdesPattern = regexp.MustCompile(`(?i)\b(?:TPU|TPE|TPJ|TPP|TP|FB|C|R|L|D|Q|U|F|X|J|P)\d{1,5}\b`)

// KeyPattern matches measurement keys with any accepted prefix and an
// optional mode suffix.
var KeyPattern = regexp.MustCompile(`(?i)\b(CHECK_|VERIFY_|MEASURE_|TEST_)([A-Z0-9_.]+?)(_(?:R2G|DIODE))?\b`)

var (
	edgeJunk   = regexp.MustCompile(`^[^A-Z0-9]+|[^A-Z0-9]+$`)
	separators = regexp.MustCompile(`[\s\-/]+`)
	repeats    = regexp.MustCompile(`_+`)
)

// legacyPrefixes are rewritten to CHECK_ during key normalization.
var legacyPrefixes = []string{"VERIFY_", "MEASURE_", "TEST_"}

// Canonical normalizes a raw net token: uppercase, dots and separators
// collapsed to single underscores, leading/trailing junk removed.
// Canonical is idempotent.
func Canonical(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, ".", "_")
	n = edgeJunk.ReplaceAllString(n, "")
	n = separators.ReplaceAllString(n, "_")
	n = repeats.ReplaceAllString(n, "_")
	return n
}

// IsPowerRail reports whether a canonical net name denotes a power rail.
func IsPowerRail(name string) bool {
	return strings.HasPrefix(name, "PP")
}

// SplitKey breaks a measurement key into its prefix, base net, and mode
// suffix. An unprefixed key returns an empty prefix.
func SplitKey(key string) (prefix, base, suffix string) {
	base = strings.ToUpper(strings.TrimSpace(key))
	for _, p := range append([]string{"CHECK_"}, legacyPrefixes...) {
		if strings.HasPrefix(base, p) {
			prefix = p
			base = base[len(p):]
			break
		}
	}
	for _, s := range []string{"_R2G", "_DIODE"} {
		if strings.HasSuffix(base, s) {
			suffix = s
			base = base[:len(base)-len(s)]
			break
		}
	}
	return prefix, base, suffix
}

// CheckKey builds the canonical CHECK_ key for a net and optional suffix.
func CheckKey(net, suffix string) string {
	return "CHECK_" + Canonical(net) + suffix
}

// NormalizeKey rewrites a measurement key to canonical CHECK_ form. The
// second return reports whether the key was rewritten (legacy prefix or
// missing prefix). Normalizing an already-canonical key is a no-op.
func NormalizeKey(key string) (string, bool) {
	prefix, base, suffix := SplitKey(key)
	if base == "" {
		return strings.ToUpper(strings.TrimSpace(key)), false
	}
	normalized := CheckKey(base, suffix)
	return normalized, prefix != "CHECK_" || normalized != strings.TrimSpace(key)
}

// BaseNet extracts the canonical net name from a measurement key.
func BaseNet(key string) string {
	_, base, _ := SplitKey(key)
	return Canonical(base)
}

// RefdesClass returns the ranking class prefix for a refdes: TP for test
// points of any flavor, otherwise the leading letter.
func RefdesClass(refdes string) string {
	r := strings.ToUpper(refdes)
	if strings.HasPrefix(r, "TP") {
		return "TP"
	}
	if strings.HasPrefix(r, "FB") {
		return "FB"
	}
	if r == "" {
		return ""
	}
	return r[:1]
}
