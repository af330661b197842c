package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/api"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/checkpoint"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/engine"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/internal/ctxkeys"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/interrupt"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
)

// ThreadsHandler serves the thread lifecycle endpoints: start, resume,
// cancel, restart, inspection, and history.
type ThreadsHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewThreadsHandler creates the thread lifecycle handler.
func NewThreadsHandler(eng *engine.Engine, logger *zap.Logger) *ThreadsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadsHandler{
		engine: eng,
		logger: logger.With(zap.String("component", "threads_handler")),
	}
}

// turnView is the client-facing projection of a turn result.
type turnView struct {
	ThreadID    string             `json:"thread_id"`
	Version     int                `json:"version"`
	Completed   bool               `json:"completed"`
	Suspended   bool               `json:"suspended"`
	Interrupt   *interrupt.Request `json:"interrupt,omitempty"`
	Resolution  string             `json:"resolution,omitempty"`
	FinalReport string             `json:"final_report,omitempty"`
	Progress    []report.Progress  `json:"progress,omitempty"`
}

func viewOf(res *engine.TurnResult) turnView {
	v := turnView{
		ThreadID:   res.ThreadID,
		Version:    res.Version,
		Completed:  res.Completed,
		Suspended:  res.Suspended,
		Interrupt:  res.Interrupt,
		Resolution: string(res.Resolution),
	}
	if res.FinalState != nil {
		v.FinalReport = res.FinalState.FinalReport
		v.Progress = res.FinalState.ProgressReport()
	}
	return v
}

// HandleStart starts a new thread and runs its first turn.
// POST /api/v1/threads
func (h *ThreadsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed", nil)
		return
	}

	var req api.StartThreadRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if strings.TrimSpace(req.Topic) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "topic is required", h.logger)
		return
	}
	if len(req.Sections) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "at least one section is required", h.logger)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = report.ModeInteractive
	}
	if mode != report.ModeInteractive && mode != report.ModeAutonomous {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "mode must be interactive or autonomous", h.logger)
		return
	}

	sections := make([]report.Section, 0, len(req.Sections))
	for i, s := range req.Sections {
		if s.ID == "" {
			WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest,
				"section "+strconv.Itoa(i)+" has no id", h.logger)
			return
		}
		sections = append(sections, report.Section{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
		})
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	state := report.NewState(req.Topic, req.UserID, mode, sections)
	res, err := h.engine.Execute(r.Context(), threadID, engine.TurnOptions{Initial: state})
	if err != nil {
		WriteEngineError(w, err, h.logger)
		return
	}
	WriteSuccess(w, viewOf(res))
}

// HandleResume settles the pending interrupt and continues the thread.
// POST /api/v1/threads/{id}/resume
func (h *ThreadsHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "thread id is required", h.logger)
		return
	}

	var req api.ResumeThreadRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ResponseType == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "response_type is required", h.logger)
		return
	}

	res, err := h.engine.Execute(r.Context(), threadID, engine.TurnOptions{
		Resume: &engine.ResumeResponse{
			Type:     req.ResponseType,
			Args:     req.Args,
			Feedback: req.Feedback,
		},
	})
	if err != nil {
		WriteEngineError(w, err, h.logger)
		return
	}
	WriteSuccess(w, viewOf(res))
}

// HandleCancel cancels a thread.
// POST /api/v1/threads/{id}/cancel
func (h *ThreadsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "thread id is required", h.logger)
		return
	}

	if err := h.engine.Cancel(r.Context(), threadID); err != nil {
		WriteEngineError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"thread_id": threadID, "status": "canceled"})
}

// HandleRestart seeds a fresh thread from a failed one and runs it.
// POST /api/v1/threads/{id}/restart
func (h *ThreadsHandler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "thread id is required", h.logger)
		return
	}

	res, err := h.engine.Restart(r.Context(), threadID)
	if err != nil {
		WriteEngineError(w, err, h.logger)
		return
	}
	WriteSuccess(w, viewOf(res))
}

// HandleGet returns the thread's index record plus the current progress
// derived from its latest checkpoint.
// GET /api/v1/threads/{id}
func (h *ThreadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "thread id is required", h.logger)
		return
	}

	store := h.engine.Store()
	info, err := store.GetThreadInfo(r.Context(), threadID)
	if err != nil {
		WriteEngineError(w, err, h.logger)
		return
	}

	data := map[string]any{
		"thread": api.ThreadSummary{
			ThreadID:  info.ThreadID,
			UserID:    info.UserID,
			Topic:     info.Topic,
			Status:    string(info.Status),
			CreatedAt: info.CreatedAt.Format(time.RFC3339),
			UpdatedAt: info.UpdatedAt.Format(time.RFC3339),
		},
	}

	if cp, err := store.GetLatest(r.Context(), threadID); err == nil {
		data["version"] = cp.Version
		if state, err := report.FromChannelValues(cp.ChannelValues); err == nil {
			data["progress"] = state.ProgressReport()
		}
		if req, err := pendingOf(cp); err == nil && req != nil {
			data["interrupt"] = req
		}
	}

	WriteSuccess(w, data)
}

// HandleList lists threads for a user. The user_id query parameter wins;
// otherwise the authenticated identity is used.
// GET /api/v1/threads?user_id=...
func (h *ThreadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = ctxkeys.UserID(r.Context())
	}
	if userID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "user_id is required", h.logger)
		return
	}

	infos, err := h.engine.Store().ListThreadsByUser(r.Context(), userID)
	if err != nil {
		WriteEngineError(w, err, h.logger)
		return
	}

	out := make([]api.ThreadSummary, 0, len(infos))
	for _, info := range infos {
		out = append(out, api.ThreadSummary{
			ThreadID:  info.ThreadID,
			UserID:    info.UserID,
			Topic:     info.Topic,
			Status:    string(info.Status),
			CreatedAt: info.CreatedAt.Format(time.RFC3339),
			UpdatedAt: info.UpdatedAt.Format(time.RFC3339),
		})
	}
	WriteSuccess(w, out)
}

// pendingOf extracts the pending interrupt request, if any.
func pendingOf(cp *checkpoint.Checkpoint) (*interrupt.Request, error) {
	for _, pw := range cp.PendingWrites {
		if pw.Channel == interrupt.PendingChannel {
			return interrupt.RequestFromMap(pw.Value)
		}
	}
	return nil, nil
}

// HandleHistory lists a thread's checkpoint chain, newest first.
// GET /api/v1/threads/{id}/history?limit=N
func (h *ThreadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "thread id is required", h.logger)
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = v
	}

	out := make([]api.CheckpointSummary, 0)
	for cp, err := range h.engine.Store().List(r.Context(), threadID, limit) {
		if err != nil {
			WriteEngineError(w, err, h.logger)
			return
		}
		out = append(out, api.CheckpointSummary{
			Version:      cp.Version,
			CreatedAt:    cp.CreatedAt.Format(time.RFC3339),
			Metadata:     cp.Metadata,
			HasInterrupt: len(cp.PendingWrites) > 0,
		})
	}
	WriteSuccess(w, out)
}
