// Package llm holds the collaborator contract. The engine treats the
// language model as an opaque plan generator: it receives case context and
// diagnostic history, returns a plan body, and nothing it says becomes a
// stored fact without passing the guardrail first.
package llm

import (
	"context"
	"strings"
)

// PlanRequest carries everything the collaborator sees for one plan
// recomputation. The measurement cheat sheet is injected by the caller;
// this package never assembles domain knowledge on its own.
type PlanRequest struct {
	CaseID       string
	BoardID      string
	Context      string   // device model, symptom, prior notes
	History      []string // diagnostic history lines, oldest first
	CheatSheet   string   // caller-provided measurement guidance
	PriorPlan    string   // previous plan body, empty on first plan
	KnownNetHint string   // short listing of high-value nets for the board
}

// Planner generates a new plan body. Errors are recoverable: the caller
// keeps the current plan and version, and tells the technician to retry.
type Planner interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (string, error)
}

// buildPrompt renders a PlanRequest into the model prompt. The response
// contract (sentinel-delimited JSON block) is stated once, here.
func buildPrompt(req PlanRequest) string {
	var b strings.Builder
	b.WriteString("You are assisting with board-level electronics repair diagnosis.\n")
	b.WriteString("Case: " + req.CaseID + "\n")
	if req.BoardID != "" {
		b.WriteString("Board: " + req.BoardID + "\n")
	}
	if req.Context != "" {
		b.WriteString("\nContext:\n" + req.Context + "\n")
	}
	if len(req.History) > 0 {
		b.WriteString("\nDiagnostic history:\n")
		for _, line := range req.History {
			b.WriteString("- " + line + "\n")
		}
	}
	if req.CheatSheet != "" {
		b.WriteString("\nMeasurement guidance:\n" + req.CheatSheet + "\n")
	}
	if req.KnownNetHint != "" {
		b.WriteString("\nKnown nets of interest:\n" + req.KnownNetHint + "\n")
	}
	if req.PriorPlan != "" {
		b.WriteString("\nPrevious plan:\n" + req.PriorPlan + "\n")
	}
	b.WriteString("\nWrite an updated diagnostic plan. After the prose, emit the requested measurements as strict JSON between these exact sentinel lines:\n")
	b.WriteString("===REQUESTED_MEASUREMENTS_JSON===\n")
	b.WriteString(`{"requested_measurements": [{"key": "CHECK_<NET>", "net": "<NET>", "type": "voltage", "prompt": "...", "hint": "..."}]}` + "\n")
	b.WriteString("===END_REQUESTED_MEASUREMENTS_JSON===\n")
	b.WriteString("Only name nets and reference designators that appear in the context or guidance above. Never invent one.\n")
	return b.String()
}
