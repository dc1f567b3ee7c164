// Package session serializes chat handling per repair case and wires the
// grammar, guardrail, truth store, plan synchronizer, and collaborator
// together. One writer per case; independent cases proceed concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"boardbrain/internal/grammar"
	"boardbrain/internal/llm"
	"boardbrain/internal/netname"
	"boardbrain/internal/plan"
	"boardbrain/internal/probe"
	"boardbrain/internal/resolver"
	"boardbrain/internal/truth"
)

// Refusal reports one net token the guardrail would not accept. Nothing
// about the token was stored.
type Refusal struct {
	Token       string
	Reason      string // "ambiguous" or "unknown"
	Suggestions []resolver.Suggestion
}

// Reply is the structured outcome of one handled message.
type Reply struct {
	MessageID      string
	Classification grammar.Classification
	Stored         []plan.Reading
	Refusals       []Refusal
	Rejected       []grammar.Rejection
	Prose          []string
	Notes          []string
	ProbePoints    []string
	ProbeGeneric   bool // probe guidance is not schematic-confirmed
	PlanVersion    int
	PlanUpdated    bool
	PlanRetry      bool // collaborator failed; current plan unchanged
	MarkedDone     int
}

// Handler owns per-case serialization and the message pipeline.
type Handler struct {
	truth    *truth.Store
	resolver *resolver.Resolver
	plans    *plan.Store
	planner  llm.Planner
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewHandler(t *truth.Store, r *resolver.Resolver, p *plan.Store, planner llm.Planner, log *zap.Logger) *Handler {
	return &Handler{
		truth:    t,
		resolver: r,
		plans:    p,
		planner:  planner,
		log:      log,
		locks:    map[string]*sync.Mutex{},
	}
}

func (h *Handler) caseLock(caseID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[caseID]
	if !ok {
		l = &sync.Mutex{}
		h.locks[caseID] = l
	}
	return l
}

// HandleMessage processes one technician message for a case. Messages for
// the same case are handled strictly one at a time.
func (h *Handler) HandleMessage(ctx context.Context, caseID, boardID, text string) (Reply, error) {
	l := h.caseLock(caseID)
	l.Lock()
	defer l.Unlock()

	reply := Reply{MessageID: uuid.NewString()}
	if v, err := h.plans.Version(caseID); err == nil {
		reply.PlanVersion = v
	}

	if cmd := grammar.ParseCommand(text); cmd != nil {
		return h.handleCommand(ctx, caseID, boardID, cmd, reply)
	}

	knownNets, err := h.knownNets(boardID)
	if err != nil {
		return reply, err
	}
	res := grammar.Classify(text, knownNets)
	reply.Classification = res.Classification
	reply.Rejected = res.Rejected
	reply.Prose = res.Prose

	eligible := 0
	for _, r := range res.Readings {
		stored, err := h.storeReading(caseID, reply.MessageID, r)
		if err != nil {
			return reply, err
		}
		reply.Stored = append(reply.Stored, stored)
		if r.Impact == grammar.ImpactEligible {
			eligible++
		}
	}
	for _, r := range res.Invalid {
		resolution, rerr := h.resolver.Resolve(boardID, r.NetRaw)
		if rerr != nil {
			reply.Refusals = append(reply.Refusals, refusalFor(r.NetRaw, rerr))
			continue
		}
		r.Net = resolution.Net
		stored, err := h.storeReading(caseID, reply.MessageID, r)
		if err != nil {
			return reply, err
		}
		reply.Stored = append(reply.Stored, stored)
		if r.Impact == grammar.ImpactEligible {
			eligible++
		}
	}

	if eligible > 0 {
		h.recomputePlan(ctx, caseID, boardID, &reply)
	}
	return reply, nil
}

func (h *Handler) handleCommand(ctx context.Context, caseID, boardID string, cmd *grammar.Command, reply Reply) (Reply, error) {
	switch cmd.Type {
	case grammar.CmdUpdate:
		h.recomputePlan(ctx, caseID, boardID, &reply)
		return reply, nil

	case grammar.CmdDone:
		n, err := h.plans.MarkDoneWhereMeasured(caseID)
		if err != nil {
			return reply, err
		}
		reply.MarkedDone = n
		h.recomputePlan(ctx, caseID, boardID, &reply)
		return reply, nil

	case grammar.CmdNote:
		note := cmd.Args["text"]
		if note == "" {
			note = cmd.Args["note"]
		}
		if note != "" {
			stored, err := h.storeReading(caseID, reply.MessageID, grammar.Reading{
				Type: "note", Value: note, Raw: note, Impact: grammar.ImpactNone,
			})
			if err != nil {
				return reply, err
			}
			reply.Stored = append(reply.Stored, stored)
			reply.Notes = append(reply.Notes, note)
		}
		return reply, nil

	case grammar.CmdMeasure:
		return h.handleMeasure(ctx, caseID, boardID, cmd.Args, reply)

	case grammar.CmdProbe:
		return h.handleProbe(caseID, boardID, cmd.Args["net"], reply)
	}
	return reply, nil
}

func (h *Handler) handleMeasure(ctx context.Context, caseID, boardID string, args map[string]string, reply Reply) (Reply, error) {
	rail := args["rail"]
	value := args["value"]
	unit := strings.ToLower(args["unit"])
	if rail == "" || value == "" || unit == "" {
		reply.Rejected = append(reply.Rejected, grammar.Rejection{
			Segment: "/measure", Reason: grammar.ReasonMissingUnit,
		})
		return reply, nil
	}
	resolution, err := h.resolver.Resolve(boardID, rail)
	if err != nil {
		reply.Refusals = append(reply.Refusals, refusalFor(rail, err))
		return reply, nil
	}
	rec := plan.Reading{
		Net:       resolution.Net,
		Type:      string(unitReadingType(unit)),
		Value:     value,
		Unit:      unit,
		Note:      args["note"],
		Raw:       fmt.Sprintf("/measure rail=%s value=%s unit=%s", rail, value, unit),
		MessageID: reply.MessageID,
	}
	id, err := h.plans.AddReading(caseID, rec)
	if err != nil {
		return reply, err
	}
	rec.ID = id
	reply.Stored = append(reply.Stored, rec)
	reply.Classification = grammar.ClassMeasurement
	h.recomputePlan(ctx, caseID, boardID, &reply)
	return reply, nil
}

func (h *Handler) handleProbe(caseID, boardID, net string, reply Reply) (Reply, error) {
	if net == "" {
		reply.ProbeGeneric = true
		return reply, nil
	}
	resolution, err := h.resolver.Resolve(boardID, net)
	if err != nil {
		reply.Refusals = append(reply.Refusals, refusalFor(net, err))
		return reply, nil
	}
	cands, err := h.truth.RefdesCandidates(boardID, resolution.Net)
	if err != nil {
		return reply, err
	}
	comps, err := h.truth.Components(boardID)
	if err != nil {
		return reply, err
	}
	reply.ProbePoints = probe.Rank(cands, comps, probe.DefaultLimit)
	if len(reply.ProbePoints) == 0 {
		reply.ProbeGeneric = true
	}
	return reply, nil
}

// storeReading appends an accepted reading; acceptance happened upstream.
func (h *Handler) storeReading(caseID, messageID string, r grammar.Reading) (plan.Reading, error) {
	rec := plan.Reading{
		Net:       r.Net,
		Type:      string(r.Type),
		Value:     r.Value,
		Unit:      r.Unit,
		Raw:       r.Raw,
		MessageID: messageID,
	}
	if r.Type == grammar.TypeComponent {
		rec.Net = r.Refdes + "." + r.Pin
	}
	if rec.Type == "" {
		rec.Type = "note"
	}
	id, err := h.plans.AddReading(caseID, rec)
	if err != nil {
		return plan.Reading{}, err
	}
	rec.ID = id
	return rec, nil
}

// recomputePlan asks the collaborator for a new plan and applies it. A
// collaborator failure leaves the plan version and requested list
// untouched and flags the reply for retry.
func (h *Handler) recomputePlan(ctx context.Context, caseID, boardID string, reply *Reply) {
	knownNets, err := h.knownNets(boardID)
	if err != nil {
		h.log.Error("failed to load netlist for plan recompute", zap.Error(err))
		reply.PlanRetry = true
		return
	}

	req := llm.PlanRequest{CaseID: caseID, BoardID: boardID}
	if readings, err := h.plans.Readings(caseID); err == nil {
		for _, r := range readings {
			req.History = append(req.History, formatReading(r))
		}
	}
	if prior, err := h.plans.Latest(caseID); err == nil {
		req.PriorPlan = prior.Body
	}
	req.KnownNetHint = netHint(knownNets)

	body, err := h.planner.GeneratePlan(ctx, req)
	if err != nil {
		h.log.Warn("plan generation failed, plan unchanged",
			zap.String("case_id", caseID), zap.Error(err))
		reply.PlanRetry = true
		return
	}

	applied, err := h.plans.Apply(caseID, body, knownNets)
	if err != nil {
		h.log.Error("failed to apply plan", zap.String("case_id", caseID), zap.Error(err))
		reply.PlanRetry = true
		return
	}
	reply.PlanVersion = applied.Version
	reply.PlanUpdated = true
}

func (h *Handler) knownNets(boardID string) (map[string]bool, error) {
	names, err := h.truth.NetNames(boardID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

func refusalFor(token string, err error) Refusal {
	var amb *resolver.AmbiguousNetError
	if errors.As(err, &amb) {
		return Refusal{Token: token, Reason: "ambiguous", Suggestions: amb.Suggestions}
	}
	return Refusal{Token: token, Reason: "unknown"}
}

func formatReading(r plan.Reading) string {
	s := r.Net
	if s != "" {
		s += " "
	}
	s += r.Value
	if r.Unit != "" {
		s += " " + r.Unit
	}
	if r.Type != "" {
		s += " (" + r.Type + ")"
	}
	return s
}

// netHint lists a handful of power rails for the collaborator prompt.
func netHint(known map[string]bool) string {
	var rails []string
	for n := range known {
		if netname.IsPowerRail(n) {
			rails = append(rails, n)
		}
	}
	if len(rails) == 0 {
		return ""
	}
	sort.Strings(rails)
	if len(rails) > 12 {
		rails = rails[:12]
	}
	return strings.Join(rails, ", ")
}

func unitReadingType(unit string) grammar.ReadingType {
	switch unit {
	case "v", "mv", "volt", "volts":
		return grammar.TypeVoltage
	case "a", "ma", "amp", "amps":
		return grammar.TypeCurrent
	case "ohm", "ohms", "kohm", "kohms", "mohm", "mohms":
		return grammar.TypeResistance
	case "hz", "khz", "mhz":
		return grammar.TypeFrequency
	case "diode":
		return grammar.TypeDiode
	}
	return grammar.ReadingType("reading")
}
