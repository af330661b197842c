// Package interrupt implements the human-in-the-loop gate for workflow
// stages: it either auto-approves (autonomous mode) or produces a structured
// approval request and lets the execution driver suspend the turn
// (interactive mode).
//
// Responses form a closed variant set -- Accept, Reject, Edit, Respond --
// so call sites switch exhaustively instead of dispatching on strings.
package interrupt

import (
	"time"

	"github.com/google/uuid"
)

// Request is a structured approval request raised at a gate. It is embedded
// in the in-flight checkpoint's pending writes so it can be reconstructed
// verbatim on resume; it is never persisted independently.
type Request struct {
	ID           string         `json:"interrupt_id"`
	Action       string         `json:"action"`
	Args         map[string]any `json:"args,omitempty"`
	AllowEdit    bool           `json:"allow_edit"`
	AllowRespond bool           `json:"allow_respond"`
	Description  string         `json:"description"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewRequest builds a request with a fresh interrupt id.
func NewRequest(action, description string, args map[string]any, allowEdit, allowRespond bool) *Request {
	return &Request{
		ID:           uuid.New().String(),
		Action:       action,
		Args:         args,
		AllowEdit:    allowEdit,
		AllowRespond: allowRespond,
		Description:  description,
		CreatedAt:    time.Now(),
	}
}

// Response is the closed set of resume decisions. The four variants are the
// only implementations; external string-typed responses are parsed at the
// boundary by ParseResponse.
type Response interface {
	// Type returns the wire name of the variant.
	Type() string

	isResponse()
}

// Accept approves the gated action as-is.
type Accept struct{}

// Reject declines the gated action; the stage will be retried on the next
// turn until its attempt ceiling forces progression.
type Reject struct {
	Reason string `json:"reason,omitempty"`
}

// Edit approves the gated action with modified arguments.
type Edit struct {
	Args map[string]any `json:"args"`
}

// Respond approves with free-form feedback for the stage to incorporate.
type Respond struct {
	Feedback string `json:"feedback"`
}

func (Accept) Type() string  { return "accept" }
func (Reject) Type() string  { return "reject" }
func (Edit) Type() string    { return "edit" }
func (Respond) Type() string { return "response" }

func (Accept) isResponse()  {}
func (Reject) isResponse()  {}
func (Edit) isResponse()    {}
func (Respond) isResponse() {}

// ParseResponse maps a wire-level response onto the closed variant set.
// The boolean is false for unrecognized types; callers treat that as a
// rejection recorded with type=unknown.
func ParseResponse(typ string, args map[string]any, feedback string) (Response, bool) {
	switch typ {
	case "accept":
		return Accept{}, true
	case "reject":
		return Reject{Reason: feedback}, true
	case "edit":
		return Edit{Args: args}, true
	case "response":
		return Respond{Feedback: feedback}, true
	default:
		return nil, false
	}
}

// Resolution summarizes how a request was settled, for audit messages and
// the event feed.
type Resolution string

const (
	ResolutionApproved  Resolution = "approved"
	ResolutionRejected  Resolution = "rejected"
	ResolutionEdited    Resolution = "edited"
	ResolutionResponded Resolution = "responded"
	ResolutionUnknown   Resolution = "unknown"
)
