package plan

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNets = map[string]bool{
	"PPBUS_AON": true,
	"PP3V3_S5":  true,
	"PP1V8_SW":  true,
}

const jsonPlanBody = `## Diagnostic Plan

1. Verify the main rail before anything else.

===REQUESTED_MEASUREMENTS_JSON===
{"requested_measurements": [
  {"key": "CHECK_PPBUS_AON", "net": "PPBUS_AON", "type": "voltage", "prompt": "Measure PPBUS_AON at the big inductor", "hint": "near L7400"},
  {"key": "VERIFY_PP3V3_S5", "net": "PP3V3_S5", "prompt": "Check PP3V3_S5"}
]}
===END_REQUESTED_MEASUREMENTS_JSON===

Some trailing prose.
`

func openTestPlanStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cases.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExtractJSONBlock(t *testing.T) {
	block, err := ExtractJSONBlock(jsonPlanBody)
	require.NoError(t, err)
	assert.Contains(t, block, "requested_measurements")
	assert.NotContains(t, block, "trailing prose")

	_, err = ExtractJSONBlock("no block here")
	assert.ErrorIs(t, err, ErrNoJSONBlock)

	_, err = ExtractJSONBlock("===REQUESTED_MEASUREMENTS_JSON===\n{} unterminated")
	assert.ErrorIs(t, err, ErrNoJSONBlock)
}

func TestParseRequestedJSON(t *testing.T) {
	block, err := ExtractJSONBlock(jsonPlanBody)
	require.NoError(t, err)
	items, err := ParseRequestedJSON(block, testNets)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "CHECK_PPBUS_AON", items[0].Key)
	assert.Equal(t, "PPBUS_AON", items[0].Net)
	assert.Equal(t, "voltage", items[0].Type)
	assert.Equal(t, "near L7400", items[0].Hint)
	assert.Equal(t, StatusPending, items[0].Status)

	// Legacy prefix is normalized to CHECK_.
	assert.Equal(t, "CHECK_PP3V3_S5", items[1].Key)
}

func TestParseRequestedJSONRejectsUnknownField(t *testing.T) {
	block := `{"requested_measurements": [{"key": "CHECK_PPBUS_AON", "net": "PPBUS_AON", "prompt": "x", "sneaky": true}]}`
	_, err := ParseRequestedJSON(block, testNets)
	assert.Error(t, err)
}

func TestParseRequestedJSONRejectsUnknownNet(t *testing.T) {
	block := `{"requested_measurements": [{"key": "CHECK_PP_FAKE_RAIL", "net": "PP_FAKE_RAIL", "prompt": "x"}]}`
	_, err := ParseRequestedJSON(block, testNets)
	assert.Error(t, err)
}

func TestParseRequestedJSONRejectsBadType(t *testing.T) {
	block := `{"requested_measurements": [{"key": "CHECK_PPBUS_AON", "net": "PPBUS_AON", "type": "sniff", "prompt": "x"}]}`
	_, err := ParseRequestedJSON(block, testNets)
	assert.Error(t, err)
}

func TestParseRequestedLegacy(t *testing.T) {
	body := `Next steps:
- KEY: VERIFY_PPBUS_AON | PROMPT: Measure the main rail
  TYPE: voltage
  HINT: use the inductor pad
- KEY: CHECK_PP1V8_SW
  PROMPT: Check the switching node
- KEY: PROMPT
  PROMPT: denylisted label must not become an item
- KEY: CHECK_PP_NOT_REAL
  PROMPT: unknown net is dropped
`
	items, err := ParseRequestedLegacy(body, testNets)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "CHECK_PPBUS_AON", items[0].Key)
	assert.Equal(t, "PPBUS_AON", items[0].Net)
	assert.Equal(t, "voltage", items[0].Type)
	assert.Equal(t, "use the inductor pad", items[0].Hint)
	assert.Equal(t, "CHECK_PP1V8_SW", items[1].Key)
}

func TestParseRequestedLegacyFailure(t *testing.T) {
	_, err := ParseRequestedLegacy("free prose with no keys at all", testNets)
	assert.ErrorIs(t, err, ErrLegacyParse)
}

func TestApplyJSONPlan(t *testing.T) {
	s := openTestPlanStore(t)
	res, err := s.Apply("case-1", jsonPlanBody, testNets)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, SourceJSON, res.Source)
	require.Len(t, res.Items, 2)

	stored, err := s.Requested("case-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(res.Items, stored))

	// Recomputation with identical content still advances the version.
	res, err = s.Apply("case-1", jsonPlanBody, testNets)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)
}

func TestApplyLegacyFallback(t *testing.T) {
	s := openTestPlanStore(t)
	body := "KEY: CHECK_PPBUS_AON\nPROMPT: Measure the rail\n"
	res, err := s.Apply("case-2", body, testNets)
	require.NoError(t, err)
	assert.Equal(t, SourceLegacy, res.Source)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "CHECK_PPBUS_AON", res.Items[0].Key)
}

func TestApplyDoubleFailurePreservesList(t *testing.T) {
	s := openTestPlanStore(t)
	res, err := s.Apply("case-3", jsonPlanBody, testNets)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	// Malformed JSON block and no legacy lines: the prior list survives,
	// the version still advances.
	bad := "===REQUESTED_MEASUREMENTS_JSON===\n{broken\n===END_REQUESTED_MEASUREMENTS_JSON===\n"
	res, err = s.Apply("case-3", bad, testNets)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, SourcePreserved, res.Source)
	assert.Error(t, res.ParseErr)
	require.Len(t, res.Items, 2)

	stored, err := s.Requested("case-3")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestMarkDoneWhereMeasured(t *testing.T) {
	s := openTestPlanStore(t)
	_, err := s.Apply("case-4", jsonPlanBody, testNets)
	require.NoError(t, err)

	_, err = s.AddReading("case-4", Reading{
		Net: "PPBUS_AON", Type: "voltage", Value: "12.3", Unit: "v",
	})
	require.NoError(t, err)

	n, err := s.MarkDoneWhereMeasured("case-4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := s.Requested("case-4")
	require.NoError(t, err)
	byKey := map[string]Item{}
	for _, it := range items {
		byKey[it.Key] = it
	}
	assert.Equal(t, StatusDone, byKey["CHECK_PPBUS_AON"].Status)
	assert.Equal(t, StatusPending, byKey["CHECK_PP3V3_S5"].Status)
}

func TestDoneStatusCarriesAcrossRecompute(t *testing.T) {
	s := openTestPlanStore(t)
	_, err := s.Apply("case-5", jsonPlanBody, testNets)
	require.NoError(t, err)
	_, err = s.AddReading("case-5", Reading{Net: "PPBUS_AON", Type: "voltage", Value: "12.3"})
	require.NoError(t, err)
	_, err = s.MarkDoneWhereMeasured("case-5")
	require.NoError(t, err)

	res, err := s.Apply("case-5", jsonPlanBody, testNets)
	require.NoError(t, err)
	byKey := map[string]Item{}
	for _, it := range res.Items {
		byKey[it.Key] = it
	}
	assert.Equal(t, StatusDone, byKey["CHECK_PPBUS_AON"].Status)
}

func TestReadingsAppendOnly(t *testing.T) {
	s := openTestPlanStore(t)
	id1, err := s.AddReading("case-6", Reading{Net: "PPBUS_AON", Type: "voltage", Value: "12.3"})
	require.NoError(t, err)
	id2, err := s.AddReading("case-6", Reading{Net: "PPBUS_AON", Type: "voltage", Value: "12.4"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	rs, err := s.Readings("case-6")
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestLatestNoPlan(t *testing.T) {
	s := openTestPlanStore(t)
	_, err := s.Latest("never-seen")
	assert.ErrorIs(t, err, ErrNoPlan)
}
