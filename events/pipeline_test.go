package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	log := NewLog(zap.NewNop())

	assert.Equal(t, int64(0), log.Publish("th", Event{Type: TypeStepStart, Node: "research"}))
	assert.Equal(t, int64(1), log.Publish("th", Event{Type: TypeStepComplete, Node: "research"}))

	// Sequences are per thread.
	assert.Equal(t, int64(0), log.Publish("other", Event{Type: TypeStepStart}))

	feed := log.Replay("th", 0)
	require.Len(t, feed, 2)
	assert.Equal(t, "th", feed[0].ThreadID)
	assert.NotZero(t, feed[0].Timestamp)
}

func TestReplayFromOffset(t *testing.T) {
	log := NewLog(zap.NewNop())
	for i := 0; i < 5; i++ {
		log.Publish("th", Event{Type: TypeStepProgress})
	}

	feed := log.Replay("th", 3)
	require.Len(t, feed, 2)
	assert.Equal(t, int64(3), feed[0].Seq)
	assert.Equal(t, int64(4), feed[1].Seq)

	assert.Nil(t, log.Replay("th", 5))
	assert.Nil(t, log.Replay("missing", 0))

	// A negative offset replays from the start.
	assert.Len(t, log.Replay("th", -1), 5)
}

func TestPublishAfterTerminalIsDropped(t *testing.T) {
	log := NewLog(zap.NewNop())

	log.Publish("th", Event{Type: TypeStepStart})
	log.Publish("th", Event{Type: TypeTaskStatus, Content: "completed"})

	assert.Equal(t, int64(0), log.Publish("th", Event{Type: TypeStepStart}))

	feed := log.Replay("th", 0)
	require.Len(t, feed, 2)
	assert.Equal(t, TypeTaskStatus, feed[len(feed)-1].Type)
}

func TestSubscribeDeliversBacklogAndLive(t *testing.T) {
	log := NewLog(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Publish("th", Event{Type: TypeStepStart, Node: "research"})
	log.Publish("th", Event{Type: TypeStepComplete, Node: "research"})

	ch := log.Subscribe(ctx, "th", 0)

	evt := <-ch
	assert.Equal(t, int64(0), evt.Seq)
	evt = <-ch
	assert.Equal(t, int64(1), evt.Seq)

	// Live events arrive after the backlog.
	log.Publish("th", Event{Type: TypeFinalResult, Content: "report"})
	evt = <-ch
	assert.Equal(t, TypeFinalResult, evt.Type)
	assert.Equal(t, int64(2), evt.Seq)

	// The terminal event closes the channel after delivery.
	log.Publish("th", Event{Type: TypeTaskStatus, Content: "completed"})
	evt = <-ch
	assert.Equal(t, TypeTaskStatus, evt.Type)

	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribeFromOffset(t *testing.T) {
	log := NewLog(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 4; i++ {
		log.Publish("th", Event{Type: TypeStepProgress})
	}

	ch := log.Subscribe(ctx, "th", 2)
	evt := <-ch
	assert.Equal(t, int64(2), evt.Seq)
	evt = <-ch
	assert.Equal(t, int64(3), evt.Seq)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	log := NewLog(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	ch := log.Subscribe(ctx, "th", 0)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSubscribeHeartbeats(t *testing.T) {
	log := NewLog(zap.NewNop(), WithHeartbeatInterval(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Publish("th", Event{Type: TypeStepStart})

	ch := log.Subscribe(ctx, "th", 0)
	evt := <-ch
	require.Equal(t, TypeStepStart, evt.Type)

	// An idle feed produces heartbeats carrying the last delivered seq.
	evt = <-ch
	assert.Equal(t, TypeHeartbeat, evt.Type)
	assert.Equal(t, int64(0), evt.Seq)

	// Heartbeats are not stored.
	assert.Len(t, log.Replay("th", 0), 1)
}

func TestNopPublisher(t *testing.T) {
	assert.Equal(t, int64(0), NopPublisher{}.Publish("th", Event{Type: TypeStepStart}))
}
