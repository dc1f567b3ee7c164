// Package resolver is the net-name guardrail. Every net token that could
// reach a stored reading or a plan item goes through Resolve, which either
// maps it onto a net the truth store actually knows or refuses with ranked
// suggestions. The resolver never fabricates a net.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"boardbrain/internal/netname"
)

// Rule names which resolution tier accepted a token.
type Rule string

const (
	RuleExact Rule = "exact"
	RuleAlias Rule = "alias"
	RuleFuzzy Rule = "fuzzy"
)

// Config carries the guardrail strictness knobs.
type Config struct {
	// Threshold is the minimum similarity for a fuzzy auto-fix.
	Threshold float64 `yaml:"threshold"`
	// TieMargin is how far below the winner the runner-up must sit for
	// the winner to be accepted.
	TieMargin float64 `yaml:"tie_margin"`
	// MaxSuggestions bounds the candidate list in an ambiguous refusal.
	MaxSuggestions int `yaml:"max_suggestions"`
	// Floor is the minimum similarity for a net to appear as a suggestion.
	Floor float64 `yaml:"floor"`
	// Aliases maps known synonyms onto canonical nets, for boards where
	// technicians use a legacy name (PPBUS_G3H for PPBUS_AON).
	Aliases map[string]string `yaml:"aliases"`
}

// DefaultConfig matches the strictness the assistant ships with.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.97,
		TieMargin:      0.02,
		MaxSuggestions: 5,
		Floor:          0.6,
		Aliases: map[string]string{
			"PPBUS_G3H": "PPBUS_AON",
		},
	}
}

// Resolution reports an accepted mapping and which rule produced it.
type Resolution struct {
	Input string
	Net   string
	Rule  Rule
	Score float64
}

// Suggestion is one ranked candidate in an ambiguous refusal.
type Suggestion struct {
	Net   string
	Score float64
}

// AmbiguousNetError refuses a token that has plausible but not certain
// matches. Suggestions are ordered by descending score, then name.
type AmbiguousNetError struct {
	Token       string
	Suggestions []Suggestion
}

func (e *AmbiguousNetError) Error() string {
	names := make([]string, len(e.Suggestions))
	for i, s := range e.Suggestions {
		names[i] = s.Net
	}
	return fmt.Sprintf("net %q is ambiguous; candidates: %s", e.Token, strings.Join(names, ", "))
}

// UnknownNetError refuses a token with no plausible match at all.
type UnknownNetError struct {
	Token string
}

func (e *UnknownNetError) Error() string {
	return fmt.Sprintf("net %q is not in the loaded netlist", e.Token)
}

// NetSource supplies the known net names for a board.
type NetSource interface {
	NetNames(boardID string) ([]string, error)
}

// Resolver applies the three-tier guardrail: exact, alias, unique fuzzy.
type Resolver struct {
	nets NetSource
	cfg  Config
	log  *zap.Logger
}

func New(nets NetSource, cfg Config, log *zap.Logger) *Resolver {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultConfig().MaxSuggestions
	}
	return &Resolver{nets: nets, cfg: cfg, log: log}
}

// Resolve maps a raw token onto a known net for the board. The token may
// be a bare net name or a measurement key; keys are stripped to their base
// net first. Resolving an already-canonical known name is the identity.
func (r *Resolver) Resolve(boardID, token string) (Resolution, error) {
	canon := netname.BaseNet(token)
	if canon == "" {
		return Resolution{}, &UnknownNetError{Token: token}
	}

	known, err := r.nets.NetNames(boardID)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load netlist for %s: %w", boardID, err)
	}
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}

	if knownSet[canon] {
		return Resolution{Input: token, Net: canon, Rule: RuleExact, Score: 1}, nil
	}

	if target, ok := r.cfg.Aliases[canon]; ok && knownSet[target] {
		r.log.Debug("alias resolution",
			zap.String("from", canon), zap.String("to", target))
		return Resolution{Input: token, Net: target, Rule: RuleAlias, Score: 1}, nil
	}

	scored := make([]Suggestion, 0, len(known))
	for _, n := range known {
		if s := similarity(canon, n); s >= r.cfg.Floor {
			scored = append(scored, Suggestion{Net: n, Score: s})
		}
	}
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].Net < scored[b].Net
	})

	if len(scored) > 0 && scored[0].Score >= r.cfg.Threshold {
		unique := len(scored) == 1 || scored[1].Score < r.cfg.Threshold
		clearWin := len(scored) == 1 || scored[0].Score-scored[1].Score > r.cfg.TieMargin
		if unique && clearWin {
			r.log.Debug("fuzzy resolution",
				zap.String("from", canon),
				zap.String("to", scored[0].Net),
				zap.Float64("score", scored[0].Score))
			return Resolution{Input: token, Net: scored[0].Net, Rule: RuleFuzzy, Score: scored[0].Score}, nil
		}
	}

	if len(scored) > 0 {
		if len(scored) > r.cfg.MaxSuggestions {
			scored = scored[:r.cfg.MaxSuggestions]
		}
		return Resolution{}, &AmbiguousNetError{Token: token, Suggestions: scored}
	}
	return Resolution{}, &UnknownNetError{Token: token}
}

// similarity scores two canonical names as the better of edit-distance
// similarity and underscore-token overlap. Token overlap rescues names
// whose segments match but whose order or separators differ.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	lev := levenshteinSimilarity(a, b)
	tok := tokenOverlap(a, b)
	if tok > lev {
		return tok
	}
	return lev
}

func levenshteinSimilarity(a, b string) float64 {
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	max := la
	if lb > max {
		max = lb
	}
	return 1 - float64(prev[lb])/float64(max)
}

func tokenOverlap(a, b string) float64 {
	ta := strings.Split(a, "_")
	tb := strings.Split(b, "_")
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		if t != "" {
			set[t] = true
		}
	}
	union := len(set)
	inter := 0
	for _, t := range tb {
		if t == "" {
			continue
		}
		if set[t] {
			inter++
			set[t] = false
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
