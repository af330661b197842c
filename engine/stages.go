package engine

import (
	"context"
	"sync"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/interrupt"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/scheduler"
)

// StageFunc executes one stage of work. Implementations are externally
// provided (the generative calls live behind them), must not mutate the
// state they receive, and report everything through the returned Outcome.
// Stage-internal I/O may be concurrent, but state mutation happens only when
// the driver applies the returned delta.
type StageFunc func(ctx context.Context, s *report.State) Outcome

// WorkFunc is the substantive part of a gated stage: it produces the
// candidate result (as interrupt request args) that the gate submits for
// approval. Transient tool/network retries belong inside the WorkFunc.
type WorkFunc func(ctx context.Context, s *report.State) (map[string]any, error)

// Stages is the registry binding scheduler actions to stage functions and
// interrupt gates. Gates are registered alongside their stages so a resumed
// turn can find the response handler for a pending request by action name.
type Stages struct {
	mu     sync.RWMutex
	stages map[scheduler.Action]StageFunc
	gates  map[string]interrupt.Gate
}

// NewStages creates an empty stage registry.
func NewStages() *Stages {
	return &Stages{
		stages: make(map[scheduler.Action]StageFunc),
		gates:  make(map[string]interrupt.Gate),
	}
}

// Register binds a stage function to an action.
func (s *Stages) Register(action scheduler.Action, fn StageFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[action] = fn
}

// RegisterGate records a gate so pending requests for its action can be
// resolved on resume.
func (s *Stages) RegisterGate(gate interrupt.Gate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[gate.Action] = gate
}

// Get returns the stage function for an action.
func (s *Stages) Get(action scheduler.Action) (StageFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.stages[action]
	return fn, ok
}

// Gate returns the registered gate for an action name.
func (s *Stages) Gate(action string) (interrupt.Gate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gates[action]
	return g, ok
}

// RegisterGated wires the common gated-stage shape for an action: increment
// the section's attempt counter, run the work, then submit the candidate
// result to the gate. Autonomous mode folds the auto-approved handler effect
// into the returned delta; interactive mode suspends with the request.
func (s *Stages) RegisterGated(ctrl *interrupt.Controller, action scheduler.Action, gate interrupt.Gate, work WorkFunc) {
	s.RegisterGate(gate)
	s.Register(action, func(ctx context.Context, st *report.State) Outcome {
		attemptDelta := attemptIncrement(action, st)

		candidate, err := work(ctx, st)
		if err != nil {
			return Fail(NewStageError(string(action), true, err))
		}

		g := gate
		g.Extract = func(*report.State) (map[string]any, error) {
			return candidate, nil
		}

		delta, req, err := ctrl.Evaluate(st.Mode, st, g)
		if err != nil {
			return Fail(NewStageError(string(action), false, err))
		}
		if req != nil {
			return Suspend(attemptDelta, req)
		}
		return Continue(attemptDelta.Merge(delta))
	})
}

// attemptIncrement bumps the current section's counter for the given action.
// Integration is attempt-free.
func attemptIncrement(action scheduler.Action, s *report.State) report.Delta {
	sec, ok := s.CurrentSection()
	if !ok {
		return report.Delta{}
	}
	switch action {
	case scheduler.ActionResearch:
		return report.Delta{AttemptIncrements: map[string]report.AttemptRecord{
			sec.ID: {Research: 1},
		}}
	case scheduler.ActionWriting:
		return report.Delta{AttemptIncrements: map[string]report.AttemptRecord{
			sec.ID: {Writing: 1},
		}}
	default:
		return report.Delta{}
	}
}
