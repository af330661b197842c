// Package report defines the task state model for multi-section report
// production: sections, per-section attempt records, stage results, and the
// immutable state value threaded through the execution engine.
//
// State is never mutated in place. Stages produce a Delta and the execution
// driver applies it with State.Apply, which returns a fresh copy. This keeps
// stage functions pure and makes checkpointed state trivially serializable.
package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode controls how interrupt gates behave during execution.
type Mode string

const (
	// ModeInteractive suspends execution at gates and waits for an external response.
	ModeInteractive Mode = "interactive"

	// ModeAutonomous auto-approves every gate and never suspends.
	ModeAutonomous Mode = "autonomous"
)

// Section is one unit of report content, tracked through research and
// writing stages independently. Immutable once the outline is fixed.
type Section struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// AttemptRecord tracks stage invocations for a single section.
// Counts only ever increase; the attempt ceiling triggers forced
// progression in the scheduler, it never rejects the increment.
type AttemptRecord struct {
	Research int `json:"research"`
	Writing  int `json:"writing"`
}

// Message is a state-visible audit entry appended by the engine and the
// interrupt controller (approvals, rejections, stage transitions).
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Node      string    `json:"node,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the full task state captured in a checkpoint's channel values.
type State struct {
	Topic               string                   `json:"topic"`
	UserID              string                   `json:"user_id,omitempty"`
	Mode                Mode                     `json:"mode"`
	Sections            []Section                `json:"sections"`
	CurrentSectionIndex int                      `json:"current_section_index"`
	ResearchResults     map[string]string        `json:"research_results"`
	WritingResults      map[string]string        `json:"writing_results"`
	Attempts            map[string]AttemptRecord `json:"attempts"`
	Messages            []Message                `json:"messages"`
	FinalReport         string                   `json:"final_report,omitempty"`
}

// NewState creates an initial state for a fresh thread.
func NewState(topic, userID string, mode Mode, sections []Section) *State {
	s := &State{
		Topic:           topic,
		UserID:          userID,
		Mode:            mode,
		Sections:        append([]Section(nil), sections...),
		ResearchResults: make(map[string]string),
		WritingResults:  make(map[string]string),
		Attempts:        make(map[string]AttemptRecord),
	}
	return s
}

// CurrentSection returns the section under work, or false when the index has
// moved past the outline.
func (s *State) CurrentSection() (Section, bool) {
	if s.CurrentSectionIndex < 0 || s.CurrentSectionIndex >= len(s.Sections) {
		return Section{}, false
	}
	return s.Sections[s.CurrentSectionIndex], true
}

// AttemptsFor returns the attempt record for a section, zero-valued when the
// section has never been attempted.
func (s *State) AttemptsFor(sectionID string) AttemptRecord {
	return s.Attempts[sectionID]
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := &State{
		Topic:               s.Topic,
		UserID:              s.UserID,
		Mode:                s.Mode,
		CurrentSectionIndex: s.CurrentSectionIndex,
		FinalReport:         s.FinalReport,
		Sections:            append([]Section(nil), s.Sections...),
		Messages:            append([]Message(nil), s.Messages...),
		ResearchResults:     make(map[string]string, len(s.ResearchResults)),
		WritingResults:      make(map[string]string, len(s.WritingResults)),
		Attempts:            make(map[string]AttemptRecord, len(s.Attempts)),
	}
	for k, v := range s.ResearchResults {
		out.ResearchResults[k] = v
	}
	for k, v := range s.WritingResults {
		out.WritingResults[k] = v
	}
	for k, v := range s.Attempts {
		out.Attempts[k] = v
	}
	return out
}

// Delta is a partial state update produced by a stage or the interrupt
// controller. Nil/zero fields leave the corresponding state untouched.
// Result maps merge key-wise, attempt increments are additive, and
// messages append.
type Delta struct {
	ResearchResults   map[string]string        `json:"research_results,omitempty"`
	WritingResults    map[string]string        `json:"writing_results,omitempty"`
	AttemptIncrements map[string]AttemptRecord `json:"attempt_increments,omitempty"`
	Messages          []Message                `json:"messages,omitempty"`
	AdvanceSection    int                      `json:"advance_section,omitempty"`
	FinalReport       *string                  `json:"final_report,omitempty"`
	Mode              *Mode                    `json:"mode,omitempty"`
}

// IsZero reports whether applying the delta would change nothing.
func (d Delta) IsZero() bool {
	return len(d.ResearchResults) == 0 &&
		len(d.WritingResults) == 0 &&
		len(d.AttemptIncrements) == 0 &&
		len(d.Messages) == 0 &&
		d.AdvanceSection == 0 &&
		d.FinalReport == nil &&
		d.Mode == nil
}

// Merge combines two deltas, with appends and additive increments preserved.
// Neither operand is modified.
func (d Delta) Merge(other Delta) Delta {
	out := d
	if len(d.ResearchResults)+len(other.ResearchResults) > 0 {
		out.ResearchResults = make(map[string]string, len(d.ResearchResults)+len(other.ResearchResults))
		for k, v := range d.ResearchResults {
			out.ResearchResults[k] = v
		}
		for k, v := range other.ResearchResults {
			out.ResearchResults[k] = v
		}
	}
	if len(d.WritingResults)+len(other.WritingResults) > 0 {
		out.WritingResults = make(map[string]string, len(d.WritingResults)+len(other.WritingResults))
		for k, v := range d.WritingResults {
			out.WritingResults[k] = v
		}
		for k, v := range other.WritingResults {
			out.WritingResults[k] = v
		}
	}
	if len(d.AttemptIncrements)+len(other.AttemptIncrements) > 0 {
		out.AttemptIncrements = make(map[string]AttemptRecord, len(d.AttemptIncrements)+len(other.AttemptIncrements))
		for k, v := range d.AttemptIncrements {
			out.AttemptIncrements[k] = v
		}
		for k, v := range other.AttemptIncrements {
			rec := out.AttemptIncrements[k]
			rec.Research += v.Research
			rec.Writing += v.Writing
			out.AttemptIncrements[k] = rec
		}
	}
	if len(d.Messages)+len(other.Messages) > 0 {
		out.Messages = make([]Message, 0, len(d.Messages)+len(other.Messages))
		out.Messages = append(out.Messages, d.Messages...)
		out.Messages = append(out.Messages, other.Messages...)
	}
	out.AdvanceSection += other.AdvanceSection
	if other.FinalReport != nil {
		out.FinalReport = other.FinalReport
	}
	if other.Mode != nil {
		out.Mode = other.Mode
	}
	return out
}

// Apply returns a new state with the delta merged in. The receiver is not
// modified.
func (s *State) Apply(d Delta) *State {
	out := s.Clone()
	for k, v := range d.ResearchResults {
		out.ResearchResults[k] = v
	}
	for k, v := range d.WritingResults {
		out.WritingResults[k] = v
	}
	for k, inc := range d.AttemptIncrements {
		rec := out.Attempts[k]
		rec.Research += inc.Research
		rec.Writing += inc.Writing
		out.Attempts[k] = rec
	}
	out.Messages = append(out.Messages, d.Messages...)
	out.CurrentSectionIndex += d.AdvanceSection
	if d.FinalReport != nil {
		out.FinalReport = *d.FinalReport
	}
	if d.Mode != nil {
		out.Mode = *d.Mode
	}
	return out
}

// ToChannelValues serializes the state into a checkpoint channel-value map.
func (s *State) ToChannelValues() (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("unmarshal state values: %w", err)
	}
	return values, nil
}

// FromChannelValues reconstructs a state from a checkpoint channel-value map.
func FromChannelValues(values map[string]any) (*State, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal channel values: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if s.ResearchResults == nil {
		s.ResearchResults = make(map[string]string)
	}
	if s.WritingResults == nil {
		s.WritingResults = make(map[string]string)
	}
	if s.Attempts == nil {
		s.Attempts = make(map[string]AttemptRecord)
	}
	return &s, nil
}
