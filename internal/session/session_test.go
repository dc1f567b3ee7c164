package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"boardbrain/internal/boardview"
	"boardbrain/internal/llm"
	"boardbrain/internal/plan"
	"boardbrain/internal/resolver"
	"boardbrain/internal/truth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go.opencensus.io starts a background worker in package init; it is
		// not a goroutine leaked by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const sessionBoardview = `BVRAW_FORMAT_3
PART_NAME U7000
PIN_NET PPBUS_AON
PIN_NET PP3V3_S5
PART_END
PART_NAME C7500
PIN_NET PPBUS_AON
PIN_NET GND
PART_END
PART_NAME TP303
PIN_NET PPBUS_AON
PART_END
`

const planWithRequest = `Check the main rail first.
===REQUESTED_MEASUREMENTS_JSON===
{"requested_measurements": [{"key": "CHECK_PPBUS_AON", "net": "PPBUS_AON", "type": "voltage", "prompt": "Measure PPBUS_AON at the big caps"}]}
===END_REQUESTED_MEASUREMENTS_JSON===
`

// fakePlanner returns a canned body, or an error when failing is set.
type fakePlanner struct {
	mu      sync.Mutex
	body    string
	failing bool
	calls   int
}

func (f *fakePlanner) GeneratePlan(_ context.Context, _ llm.PlanRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return "", errors.New("model unavailable")
	}
	return f.body, nil
}

func (f *fakePlanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestHandler(t *testing.T, planner llm.Planner) (*Handler, *plan.Store) {
	t.Helper()
	log := zaptest.NewLogger(t)
	dir := t.TempDir()

	ts, err := truth.Open(filepath.Join(dir, "truth.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })

	board, err := boardview.Parse([]byte(sessionBoardview))
	require.NoError(t, err)
	require.NoError(t, ts.CommitBoardview("mlb-820", board))

	ps, err := plan.Open(filepath.Join(dir, "cases.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })

	res := resolver.New(ts, resolver.DefaultConfig(), log)
	return NewHandler(ts, res, ps, planner, log), ps
}

func TestMeasurementStoresReadingAndRecomputesPlan(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, ps := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "PPBUS_AON: 12.52V")
	require.NoError(t, err)

	require.Len(t, reply.Stored, 1)
	assert.Equal(t, "PPBUS_AON", reply.Stored[0].Net)
	assert.Equal(t, "12.52", reply.Stored[0].Value)
	assert.True(t, reply.PlanUpdated)
	assert.Equal(t, 1, reply.PlanVersion)

	items, err := ps.Requested("case-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "CHECK_PPBUS_AON", items[0].Key)
}

func TestUnknownNetRefusedNothingStored(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, ps := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "PP77V_BOGUS_RAIL: 3.3V")
	require.NoError(t, err)

	assert.Empty(t, reply.Stored)
	require.Len(t, reply.Refusals, 1)
	assert.Equal(t, "unknown", reply.Refusals[0].Reason)
	assert.False(t, reply.PlanUpdated)
	assert.Zero(t, fp.callCount())

	readings, err := ps.Readings("case-1")
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestAliasResolvesThroughGuardrail(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, _ := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "PPBUS_G3H: 12.3V")
	require.NoError(t, err)
	require.Len(t, reply.Stored, 1)
	assert.Equal(t, "PPBUS_AON", reply.Stored[0].Net)
}

func TestQuestionOnlyLeavesPlanUntouched(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, _ := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "why would the board not charge?")
	require.NoError(t, err)
	assert.Empty(t, reply.Stored)
	assert.False(t, reply.PlanUpdated)
	assert.NotEmpty(t, reply.Prose)
	assert.Zero(t, fp.callCount())
}

func TestPlannerFailureKeepsPlanVersion(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, ps := newTestHandler(t, fp)

	_, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "PPBUS_AON: 12.52V")
	require.NoError(t, err)

	fp.mu.Lock()
	fp.failing = true
	fp.mu.Unlock()

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "PP3V3_S5: 3.28V")
	require.NoError(t, err)
	assert.True(t, reply.PlanRetry)
	assert.False(t, reply.PlanUpdated)

	v, err := ps.Version("case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	readings, err := ps.Readings("case-1")
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestDoneCommandMarksMeasuredItems(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, ps := newTestHandler(t, fp)

	_, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "PPBUS_AON: 12.52V")
	require.NoError(t, err)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "/done")
	require.NoError(t, err)
	assert.Equal(t, 1, reply.MarkedDone)
	assert.True(t, reply.PlanUpdated)

	items, err := ps.Requested("case-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, plan.StatusDone, items[0].Status)
}

func TestMeasureCommand(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, _ := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820",
		`/measure rail=PPBUS_AON value=12.49 unit=V note="after reflow"`)
	require.NoError(t, err)
	require.Len(t, reply.Stored, 1)
	assert.Equal(t, "PPBUS_AON", reply.Stored[0].Net)
	assert.Equal(t, "voltage", reply.Stored[0].Type)
	assert.Equal(t, "after reflow", reply.Stored[0].Note)
	assert.True(t, reply.PlanUpdated)
}

func TestMeasureCommandMissingUnitRejected(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, _ := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "/measure rail=PPBUS_AON value=12.49")
	require.NoError(t, err)
	assert.Empty(t, reply.Stored)
	require.Len(t, reply.Rejected, 1)
	assert.Zero(t, fp.callCount())
}

func TestProbeCommandRanksPoints(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, _ := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "/probe PPBUS_AON")
	require.NoError(t, err)
	require.NotEmpty(t, reply.ProbePoints)
	assert.Equal(t, "TP303", reply.ProbePoints[0])
	assert.False(t, reply.ProbeGeneric)
}

func TestNoteCommandStoresNote(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, ps := newTestHandler(t, fp)

	reply, err := h.HandleMessage(context.Background(), "case-1", "mlb-820", "/note board has liquid damage near U7000")
	require.NoError(t, err)
	require.Len(t, reply.Notes, 1)
	assert.Zero(t, fp.callCount())

	readings, err := ps.Readings("case-1")
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, "note", readings[0].Type)
}

func TestIndependentCasesRunConcurrently(t *testing.T) {
	fp := &fakePlanner{body: planWithRequest}
	h, ps := newTestHandler(t, fp)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caseID := fmt.Sprintf("case-%d", i)
			_, err := h.HandleMessage(context.Background(), caseID, "mlb-820", "PPBUS_AON: 12.52V")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < 8; i++ {
		v, err := ps.Version(fmt.Sprintf("case-%d", i))
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	}
}
