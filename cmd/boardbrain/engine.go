package main

import (
	"context"
	"fmt"

	"boardbrain/internal/llm"
	"boardbrain/internal/plan"
	"boardbrain/internal/resolver"
	"boardbrain/internal/session"
	"boardbrain/internal/truth"
)

// engine bundles the stores and handler a command needs. Close releases
// both databases.
type engine struct {
	truth   *truth.Store
	plans   *plan.Store
	handler *session.Handler
}

func (e *engine) Close() {
	if e.plans != nil {
		e.plans.Close()
	}
	if e.truth != nil {
		e.truth.Close()
	}
}

// openTruth opens just the truth cache, for ingest and probe commands.
func openTruth() (*truth.Store, error) {
	return truth.Open(cfg.TruthDBPath(), logger)
}

// openEngine wires the full message pipeline. The collaborator is only
// constructed when an API key is configured; without one, plan recomputes
// fail soft and readings still persist.
func openEngine(ctx context.Context) (*engine, error) {
	ts, err := openTruth()
	if err != nil {
		return nil, err
	}
	ps, err := plan.Open(cfg.CaseDBPath(), logger)
	if err != nil {
		ts.Close()
		return nil, err
	}

	var planner llm.Planner
	if key := cfg.APIKey(); key != "" {
		planner, err = llm.NewGenAIPlanner(ctx, key, cfg.LLM.Model, cfg.LLMTimeout())
		if err != nil {
			ps.Close()
			ts.Close()
			return nil, err
		}
	} else {
		planner = unavailablePlanner{}
	}

	res := resolver.New(ts, cfg.Resolver, logger)
	return &engine{
		truth:   ts,
		plans:   ps,
		handler: session.NewHandler(ts, res, ps, planner, logger),
	}, nil
}

// unavailablePlanner stands in when no API key is configured. Readings are
// still accepted; only plan recomputation reports retry.
type unavailablePlanner struct{}

func (unavailablePlanner) GeneratePlan(context.Context, llm.PlanRequest) (string, error) {
	return "", fmt.Errorf("no collaborator API key configured (set %s)", cfg.LLM.APIKeyEnv)
}
