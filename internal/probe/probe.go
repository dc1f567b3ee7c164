// Package probe ranks where to put the multimeter probe for a given net.
// Candidates come from the truth store: boardview pin attachments
// (authoritative) or KB co-occurrence (approximate). The ordering is
// deterministic for a fixed candidate set.
package probe

import (
	"sort"
	"strings"

	"boardbrain/internal/netname"
	"boardbrain/internal/truth"
)

// classRank orders probe-point classes: test points first, then bulk
// capacitors, inductors, connectors, everything else.
var classRank = map[string]int{
	"TP": 0,
	"P":  1,
	"C":  2,
	"L":  3,
	"J":  4,
}

const otherRank = 5

// shortConnectorPenalty pushes bare connector names (J1, P2) down inside
// their class; they are usually board-edge connectors, not probe points.
const shortConnectorPenalty = 50

// DefaultLimit is how many probe points a /probe answer shows.
const DefaultLimit = 8

type ranked struct {
	refdes  string
	class   int
	penalty int
	score   int
	order   int
}

// Rank orders a net's candidates into a probe-point list. Candidates not
// present in the component index are dropped when an index is supplied.
// Within a class, boardview candidates keep their discovery order and KB
// candidates sort by descending co-occurrence score then name. An empty
// result is valid; the caller labels such guidance non-schematic-confirmed.
func Rank(cands []truth.Candidate, components map[string]string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}

	seen := map[string]bool{}
	items := make([]ranked, 0, len(cands))
	for _, c := range cands {
		refdes := strings.ToUpper(c.Refdes)
		if refdes == "" || seen[refdes] {
			continue
		}
		if len(components) > 0 {
			if _, ok := components[refdes]; !ok {
				continue
			}
		}
		seen[refdes] = true

		class := netname.RefdesClass(refdes)
		rank, ok := classRank[class]
		if !ok {
			rank = otherRank
		}
		penalty := 0
		if (class == "J" || class == "P") && len(refdes) <= 2 {
			penalty = shortConnectorPenalty
		}
		items = append(items, ranked{
			refdes:  refdes,
			class:   rank,
			penalty: penalty,
			score:   c.Score,
			order:   c.Order,
		})
	}

	sort.SliceStable(items, func(a, b int) bool {
		if items[a].class != items[b].class {
			return items[a].class < items[b].class
		}
		if items[a].penalty != items[b].penalty {
			return items[a].penalty < items[b].penalty
		}
		if items[a].score != items[b].score {
			return items[a].score > items[b].score
		}
		if items[a].order != items[b].order {
			return items[a].order < items[b].order
		}
		return items[a].refdes < items[b].refdes
	})

	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.refdes
	}
	return out
}
