package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWSRequiresThreadID(t *testing.T) {
	h := NewWSHandler(NewLog(zap.NewNop()), zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWSStreamsFeed(t *testing.T) {
	h := NewWSHandler(terminatedFeed(t), zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[4:]+"?thread_id=th", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var got []Event
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		require.Equal(t, websocket.MessageText, typ)
		var evt Event
		require.NoError(t, json.Unmarshal(data, &evt))
		got = append(got, evt)
		if evt.Type == TypeTaskStatus {
			break
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, TypeStepStart, got[0].Type)
	assert.Equal(t, TypeFinalResult, got[1].Type)
	assert.Equal(t, "report text", got[1].Content)
	assert.Equal(t, TypeTaskStatus, got[2].Type)
}

func TestWSFromSeqQuery(t *testing.T) {
	h := NewWSHandler(terminatedFeed(t), zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[4:]+"?thread_id=th&from_seq=2", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, int64(2), evt.Seq)
	assert.Equal(t, TypeTaskStatus, evt.Type)
}
