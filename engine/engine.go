// Package engine contains the execution driver: it owns the turn loop that
// schedules stages, applies their deltas, checkpoints every transition, and
// suspends or resumes threads across interrupt gates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/checkpoint"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/events"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/internal/metrics"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/interrupt"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/scheduler"
)

// Config tunes the execution driver.
type Config struct {
	// LeaseTTL bounds how long a crashed turn keeps its thread locked.
	LeaseTTL time.Duration

	// MaxStepsPerTurn caps stage dispatches within a single turn as a
	// runaway guard. <= 0 means unlimited.
	MaxStepsPerTurn int
}

// DefaultConfig returns the default driver configuration.
func DefaultConfig() Config {
	return Config{
		LeaseTTL:        30 * time.Second,
		MaxStepsPerTurn: 128,
	}
}

// ResumeResponse is the wire-level resume decision handed in by the API
// layer. Type is parsed against the closed response set; unrecognized types
// degrade to a rejection recorded as type=unknown.
type ResumeResponse struct {
	Type     string         `json:"response_type"`
	Args     map[string]any `json:"args,omitempty"`
	Feedback string         `json:"feedback,omitempty"`
}

// TurnOptions selects the turn kind. Exactly one of Initial or Resume must
// be set: Initial starts a new thread, Resume settles the pending interrupt
// of an existing one.
type TurnOptions struct {
	Initial *report.State
	Resume  *ResumeResponse
}

// TurnResult reports how a turn ended. Exactly one of Completed or Suspended
// is true on success; on failure both are false and the error carries the
// stage failure.
type TurnResult struct {
	ThreadID   string                `json:"thread_id"`
	Version    int                   `json:"version"`
	Completed  bool                  `json:"completed"`
	Suspended  bool                  `json:"suspended"`
	Interrupt  *interrupt.Request    `json:"interrupt,omitempty"`
	Resolution interrupt.Resolution  `json:"resolution,omitempty"`
	FinalState *report.State         `json:"final_state,omitempty"`
	Reason     string                `json:"reason,omitempty"`
}

// Engine drives report threads through the scheduler/stage loop with
// checkpointing, leasing, and event publication.
type Engine struct {
	store      checkpoint.Store
	stages     *Stages
	controller *interrupt.Controller
	locker     Locker
	publisher  events.Publisher
	logger     *zap.Logger
	metrics    *metrics.Collector
	tracer     trace.Tracer
	cfg        Config
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// New creates an execution driver over the given store and stage registry.
func New(store checkpoint.Store, stages *Stages, controller *interrupt.Controller, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		stages:     stages,
		controller: controller,
		locker:     NewMemoryLocker(),
		publisher:  events.NopPublisher{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("engine"),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	return e
}

// Store exposes the checkpoint store for read-side callers (history, thread
// listing). Writes stay inside the driver.
func (e *Engine) Store() checkpoint.Store { return e.store }

// Execute runs one turn for a thread: either the initial turn seeded from
// opts.Initial, or a resume turn that settles the pending interrupt with
// opts.Resume. The turn runs until the thread completes, suspends on a gate,
// or a stage fails.
func (e *Engine) Execute(ctx context.Context, threadID string, opts TurnOptions) (*TurnResult, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: empty thread id", ErrInvalidArgument)
	}
	if (opts.Initial == nil) == (opts.Resume == nil) {
		return nil, ErrInvalidArgument
	}

	lease, err := e.locker.Acquire(ctx, threadID, e.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			e.logger.Warn("lease release failed", zap.String("thread_id", threadID), zap.Error(relErr))
		}
	}()

	ctx, span := e.tracer.Start(ctx, "engine.Execute",
		trace.WithAttributes(attribute.String("thread_id", threadID)),
	)
	defer span.End()

	if err := e.checkCancelable(ctx, threadID); err != nil {
		return nil, err
	}

	start := time.Now()
	var res *TurnResult
	if opts.Initial != nil {
		res, err = e.startTurn(ctx, threadID, opts.Initial)
	} else {
		res, err = e.resumeTurn(ctx, threadID, opts.Resume)
	}
	e.metrics.RecordTurn(turnLabel(res, err), time.Since(start))
	return res, err
}

// Cancel marks a thread canceled. No further turns will run; the event feed
// receives a terminal task_status. Canceling an already canceled thread is a
// no-op; canceling a completed or failed thread is an error.
func (e *Engine) Cancel(ctx context.Context, threadID string) error {
	lease, err := e.locker.Acquire(ctx, threadID, e.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	info, err := e.store.GetThreadInfo(ctx, threadID)
	if err != nil {
		return err
	}
	if info.Status == checkpoint.StatusCanceled {
		return nil
	}
	if info.Status.IsTerminal() {
		return fmt.Errorf("thread %s already %s, cannot cancel", threadID, info.Status)
	}

	if err := e.store.SetThreadStatus(ctx, threadID, checkpoint.StatusCanceled); err != nil {
		return err
	}
	e.publish(threadID, events.TypeTaskStatus, "", "canceled", map[string]any{
		"status": string(checkpoint.StatusCanceled),
	})
	e.logger.Info("thread canceled", zap.String("thread_id", threadID))
	return nil
}

// Restart seeds a fresh thread from the latest checkpoint of a failed one
// and runs its first turn. The failed thread stays untouched as an audit
// trail; the returned result carries the new thread id.
func (e *Engine) Restart(ctx context.Context, threadID string) (*TurnResult, error) {
	info, err := e.store.GetThreadInfo(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if info.Status != checkpoint.StatusFailed {
		return nil, fmt.Errorf("thread %s is %s, only failed threads restart", threadID, info.Status)
	}

	cp, err := e.store.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state, err := report.FromChannelValues(cp.ChannelValues)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}

	newID := uuid.New().String()
	lease, err := e.locker.Acquire(ctx, newID, e.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	e.logger.Info("restarting failed thread",
		zap.String("thread_id", threadID),
		zap.String("new_thread_id", newID),
	)
	return e.startTurn(ctx, newID, state)
}

// checkCancelable rejects turns on canceled threads. A missing index entry
// is fine: the thread may not exist yet.
func (e *Engine) checkCancelable(ctx context.Context, threadID string) error {
	info, err := e.store.GetThreadInfo(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil
		}
		return err
	}
	if info.Status == checkpoint.StatusCanceled {
		return ErrThreadCanceled
	}
	return nil
}

func (e *Engine) startTurn(ctx context.Context, threadID string, state *report.State) (*TurnResult, error) {
	if state.Topic == "" || len(state.Sections) == 0 {
		return nil, fmt.Errorf("%w: initial state needs a topic and at least one section", ErrInvalidArgument)
	}
	if _, err := e.store.GetLatest(ctx, threadID); err == nil {
		return nil, fmt.Errorf("%w: thread %s already started", checkpoint.ErrVersionConflict, threadID)
	} else if !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	info := &checkpoint.ThreadInfo{
		ThreadID:  threadID,
		UserID:    state.UserID,
		Topic:     state.Topic,
		Status:    checkpoint.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.PutThreadInfo(ctx, info); err != nil {
		return nil, err
	}

	// Version 0 is the seeded input snapshot; the loop writes from 1.
	if err := e.writeCheckpoint(ctx, threadID, 0, state, nil, map[string]any{"source": "input"}); err != nil {
		return nil, err
	}
	e.logger.Info("thread started",
		zap.String("thread_id", threadID),
		zap.String("topic", state.Topic),
		zap.String("mode", string(state.Mode)),
		zap.Int("sections", len(state.Sections)),
	)

	return e.runTurn(ctx, threadID, state, 0)
}

func (e *Engine) resumeTurn(ctx context.Context, threadID string, resume *ResumeResponse) (*TurnResult, error) {
	cp, err := e.store.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state, err := report.FromChannelValues(cp.ChannelValues)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}

	req, err := pendingRequest(cp)
	if err != nil {
		return nil, err
	}

	gate, ok := e.stages.Gate(req.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStageNotRegistered, req.Action)
	}

	// An unrecognized wire type is passed through as a nil response; the
	// controller records it as resolution=unknown, equivalent to rejection.
	resp, _ := interrupt.ParseResponse(resume.Type, resume.Args, resume.Feedback)

	delta, resolution, err := e.controller.Resolve(state, req, gate, resp)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordResolution(string(resolution))

	state = state.Apply(delta)
	version := cp.Version + 1
	meta := map[string]any{
		"source":       "resume",
		"interrupt_id": req.ID,
		"resolution":   string(resolution),
	}
	// The new checkpoint carries no pending writes: the interrupt is settled.
	if err := e.writeCheckpoint(ctx, threadID, version, state, nil, meta); err != nil {
		return nil, err
	}
	if err := e.store.SetThreadStatus(ctx, threadID, checkpoint.StatusRunning); err != nil {
		return nil, err
	}
	e.publish(threadID, events.TypeStepProgress, req.Action,
		fmt.Sprintf("interrupt %s", resolution),
		map[string]any{"interrupt_id": req.ID, "resolution": string(resolution)},
	)
	e.logger.Info("thread resumed",
		zap.String("thread_id", threadID),
		zap.String("interrupt_id", req.ID),
		zap.String("resolution", string(resolution)),
	)

	res, err := e.runTurn(ctx, threadID, state, version)
	if res != nil {
		res.Resolution = resolution
	}
	return res, err
}

// runTurn is the scheduler/stage loop shared by start, resume, and restart.
func (e *Engine) runTurn(ctx context.Context, threadID string, state *report.State, version int) (*TurnResult, error) {
	for step := 0; e.cfg.MaxStepsPerTurn <= 0 || step < e.cfg.MaxStepsPerTurn; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, advanced := scheduler.Next(state)
		if advanced > 0 {
			state = state.Apply(report.Delta{AdvanceSection: advanced})
			version++
			meta := map[string]any{"action": string(scheduler.ActionMoveToNext), "advanced": advanced}
			if err := e.writeCheckpoint(ctx, threadID, version, state, nil, meta); err != nil {
				return nil, err
			}
		}

		e.publish(threadID, events.TypeStepStart, string(decision.Action), decision.Reason, nil)

		fn, ok := e.stages.Get(decision.Action)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrStageNotRegistered, decision.Action)
		}

		out := e.invoke(ctx, decision.Action, fn, state)

		switch {
		case out.Failed():
			version++
			meta := map[string]any{
				"action": string(decision.Action),
				"status": string(checkpoint.StatusFailed),
				"error":  out.Err().Error(),
			}
			if err := e.writeCheckpoint(ctx, threadID, version, state, nil, meta); err != nil {
				return nil, err
			}
			if err := e.store.SetThreadStatus(ctx, threadID, checkpoint.StatusFailed); err != nil {
				return nil, err
			}
			e.publish(threadID, events.TypeError, string(decision.Action), out.Err().Error(), nil)
			e.publish(threadID, events.TypeTaskStatus, "", "failed", map[string]any{
				"status": string(checkpoint.StatusFailed),
			})
			e.logger.Error("stage failed",
				zap.String("thread_id", threadID),
				zap.String("action", string(decision.Action)),
				zap.Error(out.Err()),
			)
			return &TurnResult{ThreadID: threadID, Version: version, Reason: decision.Reason}, out.Err()

		case out.Suspended():
			state = state.Apply(out.Delta())
			version++
			req := out.Request()
			reqMap, err := req.ToMap()
			if err != nil {
				return nil, err
			}
			pending := []checkpoint.PendingWrite{{Channel: interrupt.PendingChannel, Value: reqMap}}
			meta := map[string]any{"action": string(decision.Action), "interrupt_id": req.ID}
			if err := e.writeCheckpoint(ctx, threadID, version, state, pending, meta); err != nil {
				return nil, err
			}
			if err := e.store.SetThreadStatus(ctx, threadID, checkpoint.StatusPaused); err != nil {
				return nil, err
			}
			e.metrics.RecordSuspension()
			e.publish(threadID, events.TypeInterrupt, string(decision.Action), req.Description, map[string]any{
				"interrupt_id":  req.ID,
				"args":          req.Args,
				"allow_edit":    req.AllowEdit,
				"allow_respond": req.AllowRespond,
			})
			e.logger.Info("turn suspended",
				zap.String("thread_id", threadID),
				zap.String("action", string(decision.Action)),
				zap.String("interrupt_id", req.ID),
			)
			return &TurnResult{
				ThreadID:  threadID,
				Version:   version,
				Suspended: true,
				Interrupt: req,
				Reason:    decision.Reason,
			}, nil

		default:
			state = state.Apply(out.Delta())
			version++
			meta := map[string]any{"action": string(decision.Action)}
			if err := e.writeCheckpoint(ctx, threadID, version, state, nil, meta); err != nil {
				return nil, err
			}
			e.publish(threadID, events.TypeStepComplete, string(decision.Action), decision.Reason, nil)

			if decision.Action == scheduler.ActionIntegration {
				if err := e.store.SetThreadStatus(ctx, threadID, checkpoint.StatusCompleted); err != nil {
					return nil, err
				}
				e.publish(threadID, events.TypeFinalResult, string(decision.Action), state.FinalReport, nil)
				e.publish(threadID, events.TypeTaskStatus, "", "completed", map[string]any{
					"status": string(checkpoint.StatusCompleted),
				})
				e.logger.Info("thread completed",
					zap.String("thread_id", threadID),
					zap.Int("version", version),
				)
				return &TurnResult{
					ThreadID:   threadID,
					Version:    version,
					Completed:  true,
					FinalState: state,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("thread %s exceeded %d steps in one turn", threadID, e.cfg.MaxStepsPerTurn)
}

// invoke dispatches a stage with panic containment so a broken stage fails
// its thread instead of the process.
func (e *Engine) invoke(ctx context.Context, action scheduler.Action, fn StageFunc, state *report.State) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Fail(NewStageError(string(action), false, fmt.Errorf("stage panic: %v", r)))
		}
		e.metrics.RecordStage(string(action), outcomeLabel(out), time.Since(start))
	}()
	return fn(ctx, state)
}

func (e *Engine) writeCheckpoint(ctx context.Context, threadID string, version int, state *report.State, pending []checkpoint.PendingWrite, meta map[string]any) error {
	values, err := state.ToChannelValues()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp := &checkpoint.Checkpoint{
		ThreadID:      threadID,
		Version:       version,
		CreatedAt:     time.Now(),
		ChannelValues: values,
		PendingWrites: pending,
		Metadata:      meta,
	}
	if err := e.store.Put(ctx, cp); err != nil {
		if errors.Is(err, checkpoint.ErrVersionConflict) {
			e.metrics.RecordVersionConflict()
		}
		return err
	}
	e.metrics.RecordCheckpoint()
	return nil
}

func (e *Engine) publish(threadID string, typ events.Type, node, content string, fields map[string]any) {
	e.publisher.Publish(threadID, events.Event{
		ThreadID:  threadID,
		Type:      typ,
		Content:   content,
		Node:      node,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Fields:    fields,
	})
	e.metrics.RecordEvent(string(typ))
}

// pendingRequest extracts the suspended interrupt request from a checkpoint.
func pendingRequest(cp *checkpoint.Checkpoint) (*interrupt.Request, error) {
	for _, pw := range cp.PendingWrites {
		if pw.Channel != interrupt.PendingChannel {
			continue
		}
		req, err := interrupt.RequestFromMap(pw.Value)
		if err != nil {
			return nil, err
		}
		return req, nil
	}
	return nil, ErrNoPendingInterrupt
}

func turnLabel(res *TurnResult, err error) string {
	switch {
	case err != nil:
		return "failed"
	case res != nil && res.Completed:
		return "completed"
	case res != nil && res.Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

func outcomeLabel(out Outcome) string {
	switch {
	case out.Failed():
		return "failed"
	case out.Suspended():
		return "suspended"
	default:
		return "continued"
	}
}
