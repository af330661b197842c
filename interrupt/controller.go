package interrupt

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
)

// ExtractFunc pulls the gate's display/request arguments out of task state.
type ExtractFunc func(s *report.State) (map[string]any, error)

// ResponseHandler maps a settled response onto a state delta. Supplied by
// the stage wiring; applied on Accept, Edit, and Respond. The original
// request travels along because its args carry the candidate result the
// gate asked about (reconstructed verbatim from pending writes on resume).
type ResponseHandler func(s *report.State, req *Request, resp Response) (report.Delta, error)

// Gate describes one interrupt point in a stage.
type Gate struct {
	Action       string
	Description  string
	AllowEdit    bool
	AllowRespond bool
	Extract      ExtractFunc
	Handler      ResponseHandler
}

// Controller evaluates gates. Per invocation it is a two-state machine:
// RUNNING, or SUSPENDED once it hands a request back to the driver.
type Controller struct {
	logger *zap.Logger
}

// NewController creates a gate controller.
func NewController(logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		logger: logger.With(zap.String("component", "interrupt_controller")),
	}
}

// Evaluate runs a gate against the current state.
//
// Autonomous mode synthesizes an Accept and settles immediately: the returned
// request is nil and the delta already contains the handler's effect plus the
// audit message. Interactive mode returns the built request and a zero delta;
// the driver persists the request in pending writes and suspends the turn.
//
// When argument extraction fails the gate fails open: the error is logged,
// no suspension happens, and the unmodified state flows on. This avoids
// deadlocking a thread on a broken extraction path at the cost of silently
// skipping a user gate.
func (c *Controller) Evaluate(mode report.Mode, state *report.State, gate Gate) (report.Delta, *Request, error) {
	args := map[string]any{}
	if gate.Extract != nil {
		extracted, err := gate.Extract(state)
		if err != nil {
			c.logger.Error("interrupt data extraction failed, skipping gate",
				zap.String("action", gate.Action),
				zap.Error(err),
			)
			return report.Delta{}, nil, nil
		}
		args = extracted
	}

	if mode == report.ModeAutonomous {
		req := NewRequest(gate.Action, gate.Description, args, gate.AllowEdit, gate.AllowRespond)
		delta, _, err := c.Resolve(state, req, gate, Accept{})
		return delta, nil, err
	}

	req := NewRequest(gate.Action, gate.Description, args, gate.AllowEdit, gate.AllowRespond)
	c.logger.Info("gate raised, suspending",
		zap.String("interrupt_id", req.ID),
		zap.String("action", req.Action),
	)
	return report.Delta{}, req, nil
}

// Resolve settles a previously raised request with a response.
//
// The variant is validated against the capabilities recorded in the original
// request; an unsupported variant degrades to a rejection recorded as
// type=unknown. The gate's handler is applied on Accept, Edit, and Respond.
// An audit message summarizing the resolution is always appended, autonomous
// approvals included.
func (c *Controller) Resolve(state *report.State, req *Request, gate Gate, resp Response) (report.Delta, Resolution, error) {
	resolution := classify(req, resp)

	var delta report.Delta
	if resolution != ResolutionRejected && resolution != ResolutionUnknown && gate.Handler != nil {
		d, err := gate.Handler(state, req, resp)
		if err != nil {
			return report.Delta{}, resolution, fmt.Errorf("response handler for %q: %w", req.Action, err)
		}
		delta = d
	}

	audit := report.Message{
		Role:      "system",
		Node:      req.Action,
		Content:   auditContent(req, resp, resolution),
		Timestamp: time.Now(),
	}
	delta.Messages = append(delta.Messages, audit)

	c.logger.Info("interrupt resolved",
		zap.String("interrupt_id", req.ID),
		zap.String("action", req.Action),
		zap.String("resolution", string(resolution)),
	)
	return delta, resolution, nil
}

// classify validates the response variant against the request capabilities.
func classify(req *Request, resp Response) Resolution {
	switch resp.(type) {
	case Accept:
		return ResolutionApproved
	case Reject:
		return ResolutionRejected
	case Edit:
		if !req.AllowEdit {
			return ResolutionUnknown
		}
		return ResolutionEdited
	case Respond:
		if !req.AllowRespond {
			return ResolutionUnknown
		}
		return ResolutionResponded
	default:
		return ResolutionUnknown
	}
}

func auditContent(req *Request, resp Response, resolution Resolution) string {
	switch resolution {
	case ResolutionApproved:
		return fmt.Sprintf("action %q approved", req.Action)
	case ResolutionRejected:
		if r, ok := resp.(Reject); ok && r.Reason != "" {
			return fmt.Sprintf("action %q rejected: %s", req.Action, r.Reason)
		}
		return fmt.Sprintf("action %q rejected", req.Action)
	case ResolutionEdited:
		return fmt.Sprintf("action %q approved with edits", req.Action)
	case ResolutionResponded:
		return fmt.Sprintf("action %q answered with feedback", req.Action)
	default:
		return fmt.Sprintf("action %q received unsupported response (type=unknown), treated as rejection", req.Action)
	}
}
