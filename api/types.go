// Package api defines the wire-level request and response shapes of the
// report workflow HTTP API.
package api

import "github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"

// SectionSpec declares one report section in a start request.
type SectionSpec struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// StartThreadRequest starts a new report thread.
type StartThreadRequest struct {
	// ThreadID is optional; a UUID is generated when empty.
	ThreadID string        `json:"thread_id,omitempty"`
	Topic    string        `json:"topic"`
	UserID   string        `json:"user_id,omitempty"`
	Mode     report.Mode   `json:"mode,omitempty"`
	Sections []SectionSpec `json:"sections"`
}

// ResumeThreadRequest settles a thread's pending interrupt.
type ResumeThreadRequest struct {
	// ResponseType: accept, reject, edit, response. Anything else is
	// recorded as an unknown-type rejection.
	ResponseType string         `json:"response_type"`
	Args         map[string]any `json:"args,omitempty"`
	Feedback     string         `json:"feedback,omitempty"`
}

// ThreadSummary is one row in a thread listing.
type ThreadSummary struct {
	ThreadID  string `json:"thread_id"`
	UserID    string `json:"user_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CheckpointSummary is one row in a thread's history listing.
type CheckpointSummary struct {
	Version      int            `json:"version"`
	CreatedAt    string         `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	HasInterrupt bool           `json:"has_interrupt"`
}
