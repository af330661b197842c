package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
)

func twoSections() []report.Section {
	return []report.Section{
		{ID: "s1", Title: "First"},
		{ID: "s2", Title: "Second"},
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*report.State)
		want  Action
	}{
		{
			name:  "fresh section needs research",
			setup: func(s *report.State) {},
			want:  ActionResearch,
		},
		{
			name: "researched section needs writing",
			setup: func(s *report.State) {
				s.ResearchResults["s1"] = "findings"
			},
			want: ActionWriting,
		},
		{
			name: "finished section moves on",
			setup: func(s *report.State) {
				s.ResearchResults["s1"] = "findings"
				s.WritingResults["s1"] = "draft"
			},
			want: ActionMoveToNext,
		},
		{
			name: "last finished section integrates",
			setup: func(s *report.State) {
				s.CurrentSectionIndex = 1
				s.ResearchResults["s2"] = "findings"
				s.WritingResults["s2"] = "draft"
			},
			want: ActionIntegration,
		},
		{
			name: "index past outline integrates",
			setup: func(s *report.State) {
				s.CurrentSectionIndex = 2
			},
			want: ActionIntegration,
		},
		{
			name: "research ceiling forces writing",
			setup: func(s *report.State) {
				s.Attempts["s1"] = report.AttemptRecord{Research: MaxAttempts}
			},
			want: ActionWriting,
		},
		{
			name: "writing ceiling forces move",
			setup: func(s *report.State) {
				s.ResearchResults["s1"] = "findings"
				s.Attempts["s1"] = report.AttemptRecord{Writing: MaxAttempts}
			},
			want: ActionMoveToNext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := report.NewState("topic", "", report.ModeInteractive, twoSections())
			tt.setup(s)
			d := Decide(s)
			assert.Equal(t, tt.want, d.Action)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecideBelowCeilingRetries(t *testing.T) {
	s := report.NewState("topic", "", report.ModeInteractive, twoSections())
	s.Attempts["s1"] = report.AttemptRecord{Research: MaxAttempts - 1}
	assert.Equal(t, ActionResearch, Decide(s).Action)
}

func TestDecideDoesNotMutate(t *testing.T) {
	s := report.NewState("topic", "", report.ModeInteractive, twoSections())
	_ = Decide(s)
	assert.Zero(t, s.Attempts["s1"])
	assert.Equal(t, 0, s.CurrentSectionIndex)
}

func TestNextCollapsesMoveToNext(t *testing.T) {
	s := report.NewState("topic", "", report.ModeInteractive, twoSections())
	s.ResearchResults["s1"] = "findings"
	s.WritingResults["s1"] = "draft"

	d, advanced := Next(s)
	assert.Equal(t, ActionResearch, d.Action)
	assert.Equal(t, 1, advanced)
	// The input state is untouched; the driver applies the advance.
	assert.Equal(t, 0, s.CurrentSectionIndex)
}

func TestNextSkipsConsecutiveFinishedSections(t *testing.T) {
	s := report.NewState("topic", "", report.ModeInteractive, []report.Section{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	})
	for _, id := range []string{"a", "b"} {
		s.ResearchResults[id] = "findings"
		s.WritingResults[id] = "draft"
	}

	d, advanced := Next(s)
	assert.Equal(t, ActionResearch, d.Action)
	assert.Equal(t, 2, advanced)
}

func TestNextIntegratesAfterLastSection(t *testing.T) {
	s := report.NewState("topic", "", report.ModeInteractive, twoSections())
	for _, id := range []string{"s1", "s2"} {
		s.ResearchResults[id] = "findings"
		s.WritingResults[id] = "draft"
	}

	d, advanced := Next(s)
	assert.Equal(t, ActionIntegration, d.Action)
	assert.Equal(t, 1, advanced)
}

func TestNextNeverReturnsMoveToNext(t *testing.T) {
	// Exhaustive small-state sweep: whatever the completion pattern, Next
	// resolves to a runnable action.
	sections := []report.Section{{ID: "x"}, {ID: "y"}}
	for mask := 0; mask < 16; mask++ {
		s := report.NewState("topic", "", report.ModeInteractive, sections)
		if mask&1 != 0 {
			s.ResearchResults["x"] = "r"
		}
		if mask&2 != 0 {
			s.WritingResults["x"] = "w"
		}
		if mask&4 != 0 {
			s.ResearchResults["y"] = "r"
		}
		if mask&8 != 0 {
			s.WritingResults["y"] = "w"
		}
		d, _ := Next(s)
		require.NotEqual(t, ActionMoveToNext, d.Action, "mask %04b", mask)
	}
}
