package events

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WSHandler mirrors a thread's event feed over a WebSocket connection.
// Each event is sent as one JSON text message. WebSocket does not support
// concurrent writes, but the single subscriber loop below is the only
// writer.
type WSHandler struct {
	log    *Log
	logger *zap.Logger

	// ThreadID extracts the thread id from the request; defaults to the
	// thread_id query parameter.
	ThreadID func(r *http.Request) string
}

// NewWSHandler creates a WebSocket feed handler over the given pipeline.
func NewWSHandler(log *Log, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		log:    log,
		logger: logger.With(zap.String("component", "ws_feed")),
		ThreadID: func(r *http.Request) string {
			return r.URL.Query().Get("thread_id")
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := h.ThreadID(r)
	if threadID == "" {
		http.Error(w, "thread_id is required", http.StatusBadRequest)
		return
	}

	fromSeq := int64(0)
	if q := r.URL.Query().Get("from_seq"); q != "" {
		if v, err := strconv.ParseInt(q, 10, 64); err == nil {
			fromSeq = v
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	ctx := r.Context()
	h.logger.Info("websocket subscriber connected",
		zap.String("thread_id", threadID),
		zap.Int64("from_seq", fromSeq),
	)

	for evt := range h.log.Subscribe(ctx, threadID, fromSeq) {
		data, err := json.Marshal(evt)
		if err != nil {
			h.logger.Error("marshal event", zap.Error(err))
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.logger.Debug("websocket write failed, dropping subscriber",
				zap.String("thread_id", threadID),
				zap.Error(err),
			)
			return
		}
	}
}
