// Package kbtext recovers approximate board knowledge from free-text
// documentation. It is the fallback truth source when no boardview file is
// available: net names are mined with frequency floors, and net-to-refdes
// associations are scored by line-level co-occurrence. Results are
// approximate by construction and are labeled kb_fallback downstream.
package kbtext

import (
	"sort"
	"strings"

	"boardbrain/internal/netname"
)

const (
	// maxNetsPerLine drops dense index-like lines that would otherwise
	// associate everything with everything.
	maxNetsPerLine = 3
	// maxRefsPerLine bounds how many refdes tokens a line may contribute.
	maxRefsPerLine = 5
	// sameLineWeight and adjacentWeight score co-occurrence strength.
	sameLineWeight = 3
	adjacentWeight = 1
	// adjacentWindow is how many lines above and below count as adjacent.
	adjacentWindow = 2
	// maxRefsPerNet caps the stored association list.
	maxRefsPerNet = 30
)

// netStoplist holds protocol tokens that match the net pattern but never
// name a net.
var netStoplist = map[string]bool{
	"PLAN_UNCHANGED":         true,
	"REQUESTED_MEASUREMENTS": true,
	"EVIDENCE_USED":          true,
}

// signalSuffixes mark underscore tokens that are plausibly signals even
// without a digit.
var signalSuffixes = []string{
	"EN", "PWR", "CLK", "RST", "RESET", "SCL", "SDA", "INT",
	"SW", "PG", "PGOOD", "WAKE", "SLEEP", "BOOT", "ISENSE", "VSENSE",
}

// ExtractNets mines candidate net names from KB texts. PP-prefixed tokens
// need two sightings; other underscore tokens need a digit or a signal
// suffix and clear a higher floor without a digit. The returned map carries
// the surviving counts.
func ExtractNets(texts []string) map[string]int {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, raw := range netname.NetPattern.FindAllString(text, -1) {
			token := netname.Canonical(raw)
			if len(token) < 5 || strings.Contains(token, "__") || netStoplist[token] {
				continue
			}
			counts[token]++
		}
	}
	return filterNetCounts(counts)
}

func filterNetCounts(counts map[string]int) map[string]int {
	out := make(map[string]int)
	for token, count := range counts {
		if strings.HasPrefix(token, "PP") {
			if count >= 2 {
				out[token] = count
			}
			continue
		}
		if !strings.Contains(token, "_") || len(token) < 5 || len(token) > 40 {
			continue
		}
		hasDigit := strings.ContainsAny(token, "0123456789")
		if !hasDigit && !hasSignalSuffix(token) {
			continue
		}
		minCount := 3
		if hasDigit {
			minCount = 2
		}
		if count >= minCount {
			out[token] = count
		}
	}
	return out
}

func hasSignalSuffix(token string) bool {
	for _, suf := range signalSuffixes {
		if strings.HasSuffix(token, suf) || strings.HasSuffix(token, "_"+suf) {
			return true
		}
	}
	return false
}

// RefScore is one scored net-to-refdes association.
type RefScore struct {
	Refdes   string
	Score    int
	Evidence int
}

// Meta summarizes a co-occurrence build for the ingest report.
type Meta struct {
	NetCount  int
	PairCount int
}

// BuildNetRefs scores net-to-refdes associations across KB texts. A refdes
// on the same line as a net scores sameLineWeight; one within
// adjacentWindow lines scores adjacentWeight. Lines naming more than
// maxNetsPerLine nets are skipped outright, and a line's refdes set only
// contributes when it holds at most maxRefsPerLine entries. Associations
// for each net are ordered by descending score, then descending evidence
// count, then refdes.
func BuildNetRefs(texts []string, knownNets, knownRefdes map[string]bool) (map[string][]RefScore, Meta) {
	scores := make(map[string]map[string]*RefScore)
	bump := func(net, ref string, weight int) {
		m, ok := scores[net]
		if !ok {
			m = make(map[string]*RefScore)
			scores[net] = m
		}
		rs, ok := m[ref]
		if !ok {
			rs = &RefScore{Refdes: ref}
			m[ref] = rs
		}
		rs.Score += weight
		rs.Evidence++
	}

	for _, text := range texts {
		lines := strings.Split(text, "\n")
		netsByLine := make([][]string, len(lines))
		refsByLine := make([][]string, len(lines))
		for i, line := range lines {
			netsByLine[i] = netsOnLine(line, knownNets)
			refsByLine[i] = refsOnLine(line, knownRefdes)
		}
		for i, nets := range netsByLine {
			if len(nets) == 0 || len(nets) > maxNetsPerLine {
				continue
			}
			if same := refsByLine[i]; len(same) > 0 && len(same) <= maxRefsPerLine {
				for _, n := range nets {
					for _, r := range same {
						bump(n, r, sameLineWeight)
					}
				}
			}
			lo, hi := i-adjacentWindow, i+adjacentWindow
			for j := lo; j <= hi; j++ {
				if j == i || j < 0 || j >= len(refsByLine) {
					continue
				}
				adj := refsByLine[j]
				if len(adj) == 0 || len(adj) > maxRefsPerLine {
					continue
				}
				for _, n := range nets {
					for _, r := range adj {
						bump(n, r, adjacentWeight)
					}
				}
			}
		}
	}

	out := make(map[string][]RefScore, len(scores))
	pairs := 0
	for net, refs := range scores {
		items := make([]RefScore, 0, len(refs))
		for _, rs := range refs {
			items = append(items, *rs)
		}
		sort.Slice(items, func(a, b int) bool {
			if items[a].Score != items[b].Score {
				return items[a].Score > items[b].Score
			}
			if items[a].Evidence != items[b].Evidence {
				return items[a].Evidence > items[b].Evidence
			}
			return items[a].Refdes < items[b].Refdes
		})
		if len(items) > maxRefsPerNet {
			items = items[:maxRefsPerNet]
		}
		out[net] = items
		pairs += len(items)
	}
	return out, Meta{NetCount: len(out), PairCount: pairs}
}

// netsOnLine returns the sorted unique canonical nets on a line that are
// present in knownNets.
func netsOnLine(line string, knownNets map[string]bool) []string {
	seen := map[string]bool{}
	for _, raw := range netname.NetPattern.FindAllString(line, -1) {
		canon := netname.Canonical(raw)
		if knownNets[canon] && !seen[canon] {
			seen[canon] = true
		}
	}
	return sortedKeys(seen)
}

// refsOnLine returns the sorted unique refdes tokens on a line that are
// present in knownRefdes.
func refsOnLine(line string, knownRefdes map[string]bool) []string {
	seen := map[string]bool{}
	for _, raw := range netname.RefdesPattern.FindAllString(line, -1) {
		token := strings.ToUpper(raw)
		if knownRefdes[token] && !seen[token] {
			seen[token] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
