package report

import "strings"

// Display-only completeness thresholds. The scheduler branches exclusively on
// attempt counts; these feed human-readable diagnostics and progress events.
const (
	// ResearchMinChars is the character count at which research output is
	// reported as complete.
	ResearchMinChars = 500

	// WritingMinWords is the word count at which writing output is reported
	// as complete.
	WritingMinWords = 300
)

// ResearchComplete reports whether a section's research output meets the
// informational length threshold.
func (s *State) ResearchComplete(sectionID string) bool {
	return len(s.ResearchResults[sectionID]) >= ResearchMinChars
}

// WritingComplete reports whether a section's writing output meets the
// informational word-count threshold.
func (s *State) WritingComplete(sectionID string) bool {
	return len(strings.Fields(s.WritingResults[sectionID])) >= WritingMinWords
}

// Progress summarizes per-section completeness for display.
type Progress struct {
	SectionID        string `json:"section_id"`
	Title            string `json:"title"`
	HasResearch      bool   `json:"has_research"`
	HasWriting       bool   `json:"has_writing"`
	ResearchComplete bool   `json:"research_complete"`
	WritingComplete  bool   `json:"writing_complete"`
	ResearchAttempts int    `json:"research_attempts"`
	WritingAttempts  int    `json:"writing_attempts"`
}

// ProgressReport returns a display summary across all sections.
func (s *State) ProgressReport() []Progress {
	out := make([]Progress, 0, len(s.Sections))
	for _, sec := range s.Sections {
		_, hasResearch := s.ResearchResults[sec.ID]
		_, hasWriting := s.WritingResults[sec.ID]
		rec := s.Attempts[sec.ID]
		out = append(out, Progress{
			SectionID:        sec.ID,
			Title:            sec.Title,
			HasResearch:      hasResearch,
			HasWriting:       hasWriting,
			ResearchComplete: s.ResearchComplete(sec.ID),
			WritingComplete:  s.WritingComplete(sec.ID),
			ResearchAttempts: rec.Research,
			WritingAttempts:  rec.Writing,
		})
	}
	return out
}
