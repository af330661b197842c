// Package events publishes workflow progress on an append-only per-thread
// log for external consumption. Every event gets a monotonic per-thread id,
// subscribers can replay from any offset, heartbeats cover idle stretches,
// and a terminal task_status event ends the feed once the thread reaches a
// terminal status.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type is the feed message type.
type Type string

const (
	TypeStepStart        Type = "step_start"
	TypeStepProgress     Type = "step_progress"
	TypeStepComplete     Type = "step_complete"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeContentStreaming Type = "content_streaming"
	TypeContentComplete  Type = "content_complete"
	TypeInterrupt        Type = "interrupt"
	TypeError            Type = "error"
	TypeFinalResult      Type = "final_result"
	TypeHeartbeat        Type = "heartbeat"
	TypeTaskStatus       Type = "task_status"
)

// Event is one entry in a thread's feed.
type Event struct {
	Seq       int64          `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Type      Type           `json:"message_type"`
	Content   string         `json:"content,omitempty"`
	Node      string         `json:"node,omitempty"`
	Timestamp float64        `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Publisher is the producer-side interface consumed by the engine.
type Publisher interface {
	Publish(threadID string, evt Event) int64
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(string, Event) int64 { return 0 }

// threadLog is one thread's append-only buffer plus its subscribers.
type threadLog struct {
	events   []Event
	nextSeq  int64
	terminal bool
	notify   map[chan struct{}]struct{}
}

// Log is the in-memory event pipeline. Delivery is at-least-once: each
// subscriber tracks its own cursor into the buffer and re-reads on wakeup,
// so a slow consumer never loses events, it just catches up.
type Log struct {
	mu                sync.RWMutex
	threads           map[string]*threadLog
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

// LogOption configures the pipeline.
type LogOption func(*Log)

// WithHeartbeatInterval overrides the idle heartbeat interval.
func WithHeartbeatInterval(d time.Duration) LogOption {
	return func(l *Log) { l.heartbeatInterval = d }
}

// NewLog creates an event pipeline.
func NewLog(logger *zap.Logger, opts ...LogOption) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		threads:           make(map[string]*threadLog),
		logger:            logger.With(zap.String("component", "event_pipeline")),
		heartbeatInterval: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) thread(threadID string) *threadLog {
	tl, ok := l.threads[threadID]
	if !ok {
		tl = &threadLog{notify: make(map[chan struct{}]struct{})}
		l.threads[threadID] = tl
	}
	return tl
}

// Publish appends an event to a thread's feed and returns its sequence id.
// Events published after the terminal task_status event are dropped.
func (l *Log) Publish(threadID string, evt Event) int64 {
	l.mu.Lock()
	tl := l.thread(threadID)
	if tl.terminal {
		l.mu.Unlock()
		l.logger.Debug("event after terminal status dropped",
			zap.String("thread_id", threadID),
			zap.String("type", string(evt.Type)),
		)
		return 0
	}

	evt.Seq = tl.nextSeq
	tl.nextSeq++
	evt.ThreadID = threadID
	if evt.Timestamp == 0 {
		evt.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	tl.events = append(tl.events, evt)
	if evt.Type == TypeTaskStatus {
		tl.terminal = true
	}

	// Wake subscribers; the buffered channel coalesces bursts.
	for ch := range tl.notify {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	l.mu.Unlock()
	return evt.Seq
}

// Replay returns the stored events of a thread with Seq >= fromSeq.
func (l *Log) Replay(threadID string, fromSeq int64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tl, ok := l.threads[threadID]
	if !ok || fromSeq >= tl.nextSeq {
		return nil
	}
	if fromSeq < 0 {
		fromSeq = 0
	}
	out := make([]Event, len(tl.events[fromSeq:]))
	copy(out, tl.events[fromSeq:])
	return out
}

// Subscribe returns a live feed starting at fromSeq. The channel closes when
// the context is done or after the terminal task_status event is delivered.
// Heartbeat events (not stored, Seq of the last delivered event) are
// injected when the feed is idle.
func (l *Log) Subscribe(ctx context.Context, threadID string, fromSeq int64) <-chan Event {
	out := make(chan Event, 16)
	notify := make(chan struct{}, 1)

	l.mu.Lock()
	tl := l.thread(threadID)
	tl.notify[notify] = struct{}{}
	l.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			l.mu.Lock()
			delete(tl.notify, notify)
			l.mu.Unlock()
		}()

		cursor := fromSeq
		if cursor < 0 {
			cursor = 0
		}
		ticker := time.NewTicker(l.heartbeatInterval)
		defer ticker.Stop()

		for {
			batch := l.Replay(threadID, cursor)
			for _, evt := range batch {
				select {
				case out <- evt:
					cursor = evt.Seq + 1
				case <-ctx.Done():
					return
				}
				if evt.Type == TypeTaskStatus {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-notify:
			case <-ticker.C:
				hb := Event{
					Seq:       cursor - 1,
					ThreadID:  threadID,
					Type:      TypeHeartbeat,
					Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
				}
				select {
				case out <- hb:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Ensure Log implements Publisher
var _ Publisher = (*Log)(nil)
