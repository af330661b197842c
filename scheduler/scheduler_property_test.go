package scheduler

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
)

// genState draws a random but structurally valid task state.
func genState(t *rapid.T) *report.State {
	n := rapid.IntRange(1, 5).Draw(t, "sections")
	sections := make([]report.Section, n)
	for i := range sections {
		sections[i] = report.Section{ID: fmt.Sprintf("sec-%d", i), Title: fmt.Sprintf("Section %d", i)}
	}
	s := report.NewState("topic", "", report.ModeInteractive, sections)
	s.CurrentSectionIndex = rapid.IntRange(0, n).Draw(t, "index")

	for i := range sections {
		id := sections[i].ID
		if rapid.Bool().Draw(t, "has_research_"+id) {
			s.ResearchResults[id] = "findings"
		}
		if rapid.Bool().Draw(t, "has_writing_"+id) {
			s.WritingResults[id] = "draft"
		}
		s.Attempts[id] = report.AttemptRecord{
			Research: rapid.IntRange(0, MaxAttempts+1).Draw(t, "ra_"+id),
			Writing:  rapid.IntRange(0, MaxAttempts+1).Draw(t, "wa_"+id),
		}
	}
	return s
}

func TestDecideDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genState(t)
		first := Decide(s)
		for i := 0; i < 3; i++ {
			if got := Decide(s); got != first {
				t.Fatalf("Decide not deterministic: %+v vs %+v", first, got)
			}
		}
	})
}

func TestCeilingAlwaysPermitsProgress(t *testing.T) {
	// Driving any state forward by honoring decisions must reach
	// integration in bounded steps; the attempt ceiling guarantees no
	// section can stall the walk.
	rapid.Check(t, func(t *rapid.T) {
		s := genState(t)

		// Worst case per section: MaxAttempts research + MaxAttempts
		// writing plus a move, with generous slack.
		budget := len(s.Sections)*(2*MaxAttempts+2) + 2
		for step := 0; step < budget; step++ {
			d, advanced := Next(s)
			if advanced > 0 {
				s = s.Apply(report.Delta{AdvanceSection: advanced})
			}
			switch d.Action {
			case ActionIntegration:
				return
			case ActionResearch:
				rec := s.Attempts[s.Sections[s.CurrentSectionIndex].ID]
				if rec.Research >= MaxAttempts {
					t.Fatalf("research selected past ceiling: %+v", rec)
				}
				// Model a rejected attempt: counter up, no result.
				s = s.Apply(report.Delta{AttemptIncrements: map[string]report.AttemptRecord{
					s.Sections[s.CurrentSectionIndex].ID: {Research: 1},
				}})
			case ActionWriting:
				rec := s.Attempts[s.Sections[s.CurrentSectionIndex].ID]
				if rec.Writing >= MaxAttempts {
					t.Fatalf("writing selected past ceiling: %+v", rec)
				}
				s = s.Apply(report.Delta{AttemptIncrements: map[string]report.AttemptRecord{
					s.Sections[s.CurrentSectionIndex].ID: {Writing: 1},
				}})
			case ActionMoveToNext:
				t.Fatalf("Next returned move_to_next_section")
			}
		}
		t.Fatalf("no integration within %d steps", budget)
	})
}
