package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/checkpoint"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/events"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/interrupt"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/scheduler"
)

// storeHandler is the gate handler used by the synthetic stages: Accept
// stores the candidate from the request args, Edit prefers the edited value.
func storeHandler(apply func(sectionID, content string) report.Delta) interrupt.ResponseHandler {
	return func(s *report.State, req *interrupt.Request, resp interrupt.Response) (report.Delta, error) {
		sectionID, _ := req.Args["section_id"].(string)
		content, _ := req.Args["content"].(string)
		if e, ok := resp.(interrupt.Edit); ok {
			if edited, ok := e.Args["content"].(string); ok {
				content = edited
			}
		}
		return apply(sectionID, content), nil
	}
}

// testStages wires gated research/writing stages producing deterministic
// candidates plus an integration stage joining the drafts.
func testStages(ctrl *interrupt.Controller) *Stages {
	stages := NewStages()

	stages.RegisterGated(ctrl, scheduler.ActionResearch, interrupt.Gate{
		Action:       string(scheduler.ActionResearch),
		Description:  "review research",
		AllowEdit:    true,
		AllowRespond: true,
		Handler: storeHandler(func(id, content string) report.Delta {
			return report.Delta{ResearchResults: map[string]string{id: content}}
		}),
	}, func(ctx context.Context, s *report.State) (map[string]any, error) {
		sec, _ := s.CurrentSection()
		return map[string]any{"section_id": sec.ID, "content": "research:" + sec.ID}, nil
	})

	stages.RegisterGated(ctrl, scheduler.ActionWriting, interrupt.Gate{
		Action:       string(scheduler.ActionWriting),
		Description:  "review draft",
		AllowEdit:    true,
		AllowRespond: true,
		Handler: storeHandler(func(id, content string) report.Delta {
			return report.Delta{WritingResults: map[string]string{id: content}}
		}),
	}, func(ctx context.Context, s *report.State) (map[string]any, error) {
		sec, _ := s.CurrentSection()
		return map[string]any{"section_id": sec.ID, "content": "draft:" + sec.ID}, nil
	})

	stages.Register(scheduler.ActionIntegration, func(ctx context.Context, s *report.State) Outcome {
		parts := make([]string, 0, len(s.Sections))
		for _, sec := range s.Sections {
			parts = append(parts, s.WritingResults[sec.ID])
		}
		final := strings.Join(parts, "\n")
		return Continue(report.Delta{FinalReport: &final})
	})

	return stages
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	ctrl := interrupt.NewController(zap.NewNop())
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return New(store, testStages(ctrl), ctrl, opts...)
}

func initialState(mode report.Mode, sectionIDs ...string) *report.State {
	sections := make([]report.Section, len(sectionIDs))
	for i, id := range sectionIDs {
		sections[i] = report.Section{ID: id, Title: strings.ToUpper(id)}
	}
	return report.NewState("test topic", "user-1", mode, sections)
}

func accept() *ResumeResponse { return &ResumeResponse{Type: "accept"} }

func TestExecuteValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = eng.Execute(ctx, "th", TurnOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = eng.Execute(ctx, "th", TurnOptions{
		Initial: initialState(report.ModeInteractive, "s1"),
		Resume:  accept(),
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = eng.Execute(ctx, "th", TurnOptions{Initial: report.NewState("", "", report.ModeInteractive, nil)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInteractiveSuspendResumeToCompletion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Initial turn runs until the research gate.
	res, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.False(t, res.Completed)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "research", res.Interrupt.Action)
	assert.Equal(t, "research:s1", res.Interrupt.Args["content"])

	// The suspension checkpoint carries the request verbatim.
	cp, err := eng.Store().GetLatest(ctx, "th")
	require.NoError(t, err)
	require.Len(t, cp.PendingWrites, 1)
	assert.Equal(t, interrupt.PendingChannel, cp.PendingWrites[0].Channel)

	info, err := eng.Store().GetThreadInfo(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusPaused, info.Status)

	// Accept research; the turn continues to the writing gate.
	res, err = eng.Execute(ctx, "th", TurnOptions{Resume: accept()})
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.Equal(t, interrupt.ResolutionApproved, res.Resolution)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "writing", res.Interrupt.Action)

	// Edit the draft; integration completes the thread.
	res, err = eng.Execute(ctx, "th", TurnOptions{Resume: &ResumeResponse{
		Type: "edit",
		Args: map[string]any{"content": "edited draft"},
	}})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, interrupt.ResolutionEdited, res.Resolution)
	require.NotNil(t, res.FinalState)
	assert.Equal(t, "edited draft", res.FinalState.WritingResults["s1"])
	assert.Equal(t, "edited draft", res.FinalState.FinalReport)

	info, err = eng.Store().GetThreadInfo(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, info.Status)
}

func TestCheckpointChainIsGapless(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "th", TurnOptions{Resume: accept()})
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "th", TurnOptions{Resume: accept()})
	require.NoError(t, err)

	var versions []int
	for cp, err := range eng.Store().List(ctx, "th", 0) {
		require.NoError(t, err)
		versions = append(versions, cp.Version)
	}
	require.NotEmpty(t, versions)
	// Newest first, 0..n gapless.
	for i, v := range versions {
		assert.Equal(t, len(versions)-1-i, v)
	}

	// Version 0 is the seeded input.
	seed, err := eng.Store().GetByVersion(ctx, "th", 0)
	require.NoError(t, err)
	assert.Equal(t, "input", seed.Metadata["source"])
}

func TestThreeRejectionsForceWriting(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.NoError(t, err)
	require.True(t, res.Suspended)

	// Rejections one and two land back on the research gate.
	for i := 0; i < 2; i++ {
		res, err = eng.Execute(ctx, "th", TurnOptions{Resume: &ResumeResponse{Type: "reject", Feedback: "thin"}})
		require.NoError(t, err)
		require.True(t, res.Suspended, "rejection %d", i+1)
		assert.Equal(t, "research", res.Interrupt.Action)
	}

	// The third rejection exhausts the ceiling; the scheduler forces
	// writing with no research result.
	res, err = eng.Execute(ctx, "th", TurnOptions{Resume: &ResumeResponse{Type: "reject", Feedback: "still thin"}})
	require.NoError(t, err)
	require.True(t, res.Suspended)
	assert.Equal(t, "writing", res.Interrupt.Action)

	cp, err := eng.Store().GetLatest(ctx, "th")
	require.NoError(t, err)
	state, err := report.FromChannelValues(cp.ChannelValues)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Attempts["s1"].Research)
	assert.Empty(t, state.ResearchResults)
}

func TestAutonomousCompletesInOneTurn(t *testing.T) {
	log := events.NewLog(zap.NewNop())
	eng := newTestEngine(t, WithPublisher(log))
	ctx := context.Background()

	res, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeAutonomous, "s1", "s2")})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.False(t, res.Suspended)
	require.NotNil(t, res.FinalState)
	assert.Equal(t, "draft:s1\ndraft:s2", res.FinalState.FinalReport)
	assert.Equal(t, "research:s1", res.FinalState.ResearchResults["s1"])
	assert.Equal(t, "research:s2", res.FinalState.ResearchResults["s2"])

	// The feed never saw an interrupt, and ends with the terminal status.
	feed := log.Replay("th", 0)
	require.NotEmpty(t, feed)
	for _, evt := range feed {
		assert.NotEqual(t, events.TypeInterrupt, evt.Type)
	}
	last := feed[len(feed)-1]
	assert.Equal(t, events.TypeTaskStatus, last.Type)
	assert.Equal(t, "completed", last.Content)
}

func TestStageFailureMarksThreadFailed(t *testing.T) {
	ctrl := interrupt.NewController(zap.NewNop())
	stages := testStages(ctrl)
	stages.Register(scheduler.ActionIntegration, func(ctx context.Context, s *report.State) Outcome {
		return Fail(NewStageError("integration", false, errors.New("compose exploded")))
	})

	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	eng := New(store, stages, ctrl)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeAutonomous, "s1")})
	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "integration", stageErr.Action)

	info, err := store.GetThreadInfo(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, info.Status)

	// The failure checkpoint preserves the pre-failure state.
	cp, err := store.GetLatest(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, "failed", cp.Metadata["status"])
}

func TestRestartSeedsFreshThread(t *testing.T) {
	ctrl := interrupt.NewController(zap.NewNop())
	stages := testStages(ctrl)
	failures := 0
	stages.Register(scheduler.ActionIntegration, func(ctx context.Context, s *report.State) Outcome {
		if failures == 0 {
			failures++
			return Fail(NewStageError("integration", true, errors.New("transient")))
		}
		final := "recovered"
		return Continue(report.Delta{FinalReport: &final})
	})

	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	eng := New(store, stages, ctrl)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeAutonomous, "s1")})
	require.Error(t, err)

	res, err := eng.Restart(ctx, "th")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.NotEqual(t, "th", res.ThreadID)
	assert.Equal(t, "recovered", res.FinalState.FinalReport)

	// The failed thread stays untouched as an audit trail.
	info, err := store.GetThreadInfo(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, info.Status)
}

func TestRestartRequiresFailedThread(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeAutonomous, "s1")})
	require.NoError(t, err)

	_, err = eng.Restart(ctx, "th")
	assert.ErrorContains(t, err, "only failed threads")

	_, err = eng.Restart(ctx, "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestUnknownResponseTypeIsRejection(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.NoError(t, err)
	require.True(t, res.Suspended)
	firstID := res.Interrupt.ID

	res, err = eng.Execute(ctx, "th", TurnOptions{Resume: &ResumeResponse{Type: "frobnicate"}})
	require.NoError(t, err)
	assert.Equal(t, interrupt.ResolutionUnknown, res.Resolution)

	// The gate result was not applied; the thread re-suspended on a fresh
	// request for the same stage.
	require.True(t, res.Suspended)
	assert.Equal(t, "research", res.Interrupt.Action)
	assert.NotEqual(t, firstID, res.Interrupt.ID)

	cp, err := eng.Store().GetLatest(ctx, "th")
	require.NoError(t, err)
	state, err := report.FromChannelValues(cp.ChannelValues)
	require.NoError(t, err)
	assert.Empty(t, state.ResearchResults)
}

func TestResumeWithoutPendingInterrupt(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeAutonomous, "s1")})
	require.NoError(t, err)

	_, err = eng.Execute(ctx, "th", TurnOptions{Resume: accept()})
	assert.ErrorIs(t, err, ErrNoPendingInterrupt)
}

func TestStartTwiceConflicts(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.NoError(t, err)

	_, err = eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	assert.ErrorIs(t, err, checkpoint.ErrVersionConflict)
}

func TestLeaseHeldRejectsConcurrentTurn(t *testing.T) {
	locker := NewMemoryLocker()
	eng := newTestEngine(t, WithLocker(locker))
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "th", DefaultConfig().LeaseTTL)
	require.NoError(t, err)

	_, err = eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, lease.Release(ctx))
	_, err = eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.NoError(t, err)
	require.True(t, res.Suspended)

	require.NoError(t, eng.Cancel(ctx, "th"))

	// No further turns run on a canceled thread.
	_, err = eng.Execute(ctx, "th", TurnOptions{Resume: accept()})
	assert.ErrorIs(t, err, ErrThreadCanceled)

	// Canceling again is a no-op.
	assert.NoError(t, eng.Cancel(ctx, "th"))
}

func TestCancelCompletedThreadFails(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeAutonomous, "s1")})
	require.NoError(t, err)

	err = eng.Cancel(ctx, "th")
	assert.ErrorContains(t, err, "cannot cancel")
}

func TestStagePanicIsContained(t *testing.T) {
	ctrl := interrupt.NewController(zap.NewNop())
	stages := testStages(ctrl)
	stages.Register(scheduler.ActionIntegration, func(ctx context.Context, s *report.State) Outcome {
		panic("boom")
	})

	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	eng := New(store, stages, ctrl)

	_, err := eng.Execute(context.Background(), "th", TurnOptions{Initial: initialState(report.ModeAutonomous, "s1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage panic")

	info, err := store.GetThreadInfo(context.Background(), "th")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, info.Status)
}

func TestMaxStepsPerTurnGuard(t *testing.T) {
	ctrl := interrupt.NewController(zap.NewNop())
	stages := NewStages()
	// A stage that never makes progress.
	stages.Register(scheduler.ActionResearch, func(ctx context.Context, s *report.State) Outcome {
		return Continue(report.Delta{})
	})

	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	eng := New(store, stages, ctrl, WithConfig(Config{LeaseTTL: DefaultConfig().LeaseTTL, MaxStepsPerTurn: 5}))

	_, err := eng.Execute(context.Background(), "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 5 steps")
}

func TestEventFeedOrdering(t *testing.T) {
	log := events.NewLog(zap.NewNop())
	eng := newTestEngine(t, WithPublisher(log))
	ctx := context.Background()

	_, err := eng.Execute(ctx, "th", TurnOptions{Initial: initialState(report.ModeInteractive, "s1")})
	require.NoError(t, err)

	feed := log.Replay("th", 0)
	require.NotEmpty(t, feed)
	for i, evt := range feed {
		assert.Equal(t, int64(i), evt.Seq, "sequence must be gapless")
	}
	assert.Equal(t, events.TypeStepStart, feed[0].Type)
	assert.Equal(t, events.TypeInterrupt, feed[len(feed)-1].Type)
}

func TestStageErrorMessage(t *testing.T) {
	err := NewStageError("research", true, fmt.Errorf("timeout"))
	assert.Contains(t, err.Error(), `stage "research"`)
	assert.Contains(t, err.Error(), "retryable")

	err = NewStageError("writing", false, fmt.Errorf("corrupt"))
	assert.Contains(t, err.Error(), "terminal")
}
