package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticNets []string

func (s staticNets) NetNames(string) ([]string, error) {
	return s, nil
}

func newTestResolver(t *testing.T, nets ...string) *Resolver {
	t.Helper()
	return New(staticNets(nets), DefaultConfig(), zaptest.NewLogger(t))
}

func TestResolveExact(t *testing.T) {
	r := newTestResolver(t, "PPBUS_AON", "PP3V3_S5", "GND")

	res, err := r.Resolve("820-02020", "PPBUS_AON")
	require.NoError(t, err)
	assert.Equal(t, "PPBUS_AON", res.Net)
	assert.Equal(t, RuleExact, res.Rule)

	// Canonicalization happens before lookup.
	res, err = r.Resolve("820-02020", "ppbus.aon")
	require.NoError(t, err)
	assert.Equal(t, "PPBUS_AON", res.Net)
	assert.Equal(t, RuleExact, res.Rule)
}

func TestResolveIdempotent(t *testing.T) {
	r := newTestResolver(t, "PPBUS_AON")
	res, err := r.Resolve("820-02020", "PPBUS_AON")
	require.NoError(t, err)
	again, err := r.Resolve("820-02020", res.Net)
	require.NoError(t, err)
	assert.Equal(t, res.Net, again.Net)
	assert.Equal(t, RuleExact, again.Rule)
}

func TestResolveAlias(t *testing.T) {
	r := newTestResolver(t, "PPBUS_AON", "PP3V3_S5")
	res, err := r.Resolve("820-02020", "PPBUS_G3H")
	require.NoError(t, err)
	assert.Equal(t, "PPBUS_AON", res.Net)
	assert.Equal(t, RuleAlias, res.Rule)
}

func TestResolveAliasTargetMissing(t *testing.T) {
	// The alias only fires when its target is actually in the netlist.
	r := newTestResolver(t, "PP3V3_S5")
	_, err := r.Resolve("820-00875", "PPBUS_G3H")
	require.Error(t, err)
	var unknown *UnknownNetError
	assert.ErrorAs(t, err, &unknown)
}

func TestResolveMeasurementKey(t *testing.T) {
	r := newTestResolver(t, "PPBUS_AON")
	res, err := r.Resolve("820-02020", "VERIFY_PPBUS_AON")
	require.NoError(t, err)
	assert.Equal(t, "PPBUS_AON", res.Net)
	assert.Equal(t, RuleExact, res.Rule)

	res, err = r.Resolve("820-02020", "CHECK_PPBUS_AON_R2G")
	require.NoError(t, err)
	assert.Equal(t, "PPBUS_AON", res.Net)
}

func TestResolveFuzzyTokenReorder(t *testing.T) {
	r := newTestResolver(t, "PPBUS_AON", "PP3V3_S5")
	// Same underscore segments in a different order score 1.0 on token
	// overlap, above the threshold with a clear margin.
	res, err := r.Resolve("820-02020", "AON_PPBUS")
	require.NoError(t, err)
	assert.Equal(t, "PPBUS_AON", res.Net)
	assert.Equal(t, RuleFuzzy, res.Rule)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
}

func TestResolveAmbiguous(t *testing.T) {
	r := newTestResolver(t, "PP1V8_S0", "PP1V8_S2", "GND")
	_, err := r.Resolve("820-02020", "PP1V8_S1")
	require.Error(t, err)
	var amb *AmbiguousNetError
	require.ErrorAs(t, err, &amb)
	require.Len(t, amb.Suggestions, 2)
	// Equal scores fall back to lexical order.
	assert.Equal(t, "PP1V8_S0", amb.Suggestions[0].Net)
	assert.Equal(t, "PP1V8_S2", amb.Suggestions[1].Net)
	assert.Equal(t, amb.Suggestions[0].Score, amb.Suggestions[1].Score)
}

func TestResolveSuggestionCap(t *testing.T) {
	nets := []string{
		"PP1V8_S0", "PP1V8_S2", "PP1V8_S3", "PP1V8_S4", "PP1V8_S5",
		"PP1V8_S6", "PP1V8_S7",
	}
	r := newTestResolver(t, nets...)
	_, err := r.Resolve("820-02020", "PP1V8_S1")
	var amb *AmbiguousNetError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Suggestions, DefaultConfig().MaxSuggestions)
}

func TestResolveUnknown(t *testing.T) {
	r := newTestResolver(t, "PPBUS_AON", "PP3V3_S5")
	_, err := r.Resolve("820-02020", "COMPLETELY_DIFFERENT_THING_42")
	require.Error(t, err)
	var unknown *UnknownNetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "COMPLETELY_DIFFERENT_THING_42", unknown.Token)
}

func TestResolveEmptyToken(t *testing.T) {
	r := newTestResolver(t, "PPBUS_AON")
	_, err := r.Resolve("820-02020", "  ")
	var unknown *UnknownNetError
	require.ErrorAs(t, err, &unknown)
}

func TestResolveNearTieRefused(t *testing.T) {
	// Two nets both above the threshold must refuse, not guess.
	cfg := DefaultConfig()
	cfg.Threshold = 0.85
	r := New(staticNets{"PP1V8_S0", "PP1V8_S2"}, cfg, zaptest.NewLogger(t))
	_, err := r.Resolve("820-02020", "PP1V8_S1")
	var amb *AmbiguousNetError
	require.ErrorAs(t, err, &amb)
}
