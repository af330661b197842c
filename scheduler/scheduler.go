// Package scheduler decides the next stage of work for a report thread.
//
// Decide is a pure, read-only function over the task state: identical states
// always yield identical decisions, which is what makes suspended threads
// resumable — the driver replays Decide against the checkpointed state and
// lands on the same action.
//
// Transitions are gated by attempt counts alone. The length-based quality
// gates in the report package are informational and deliberately ignored
// here.
package scheduler

import (
	"fmt"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
)

// MaxAttempts is the per-stage, per-section retry ceiling. Reaching it forces
// progression (skip research, or move past a section) instead of stalling.
const MaxAttempts = 3

// Action is the next unit of work the driver should run.
type Action string

const (
	ActionResearch    Action = "research"
	ActionWriting     Action = "writing"
	ActionMoveToNext  Action = "move_to_next_section"
	ActionIntegration Action = "integration"
)

// Decision pairs an action with a human-readable justification.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Decide returns the next action for the given state. It never mutates the
// state and never increments attempt counters.
func Decide(s *report.State) Decision {
	if s.CurrentSectionIndex >= len(s.Sections) {
		return Decision{
			Action: ActionIntegration,
			Reason: "all sections processed, integrating final report",
		}
	}

	sec := s.Sections[s.CurrentSectionIndex]
	rec := s.AttemptsFor(sec.ID)

	if _, ok := s.ResearchResults[sec.ID]; !ok {
		if rec.Research >= MaxAttempts {
			// Research deemed unsalvageable after the ceiling; proceed to
			// writing with whatever context exists.
			return Decision{
				Action: ActionWriting,
				Reason: fmt.Sprintf("section %q hit research attempt ceiling (%d), forcing writing", sec.ID, MaxAttempts),
			}
		}
		return Decision{
			Action: ActionResearch,
			Reason: fmt.Sprintf("section %q has no research result (attempt %d/%d)", sec.ID, rec.Research+1, MaxAttempts),
		}
	}

	if _, ok := s.WritingResults[sec.ID]; !ok {
		if rec.Writing >= MaxAttempts {
			return Decision{
				Action: ActionMoveToNext,
				Reason: fmt.Sprintf("section %q hit writing attempt ceiling (%d), moving on", sec.ID, MaxAttempts),
			}
		}
		return Decision{
			Action: ActionWriting,
			Reason: fmt.Sprintf("section %q has research but no writing result (attempt %d/%d)", sec.ID, rec.Writing+1, MaxAttempts),
		}
	}

	if s.CurrentSectionIndex < len(s.Sections)-1 {
		return Decision{
			Action: ActionMoveToNext,
			Reason: fmt.Sprintf("section %q complete, more sections remain", sec.ID),
		}
	}
	return Decision{
		Action: ActionIntegration,
		Reason: "last section complete, integrating final report",
	}
}

// Next resolves ActionMoveToNext by advancing the section index until a
// runnable action emerges, so the returned action is always one of
// research, writing, or integration. The second return value is the number
// of sections skipped over; the driver applies it as a state delta before
// dispatching the stage.
func Next(s *report.State) (Decision, int) {
	advanced := 0
	cur := s
	for {
		d := Decide(cur)
		if d.Action != ActionMoveToNext {
			return d, advanced
		}
		advanced++
		cur = cur.Apply(report.Delta{AdvanceSection: 1})
	}
}
