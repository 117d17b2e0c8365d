package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
)

const (
	keepAliveInterval = 30 * time.Second
	clientBuffer      = 16
)

type streamEvent struct {
	seq     uint64
	name    string
	payload []byte
}

// subscriber is one connected stream client. Empty filters match every alarm.
type subscriber struct {
	events  chan streamEvent
	alarmID string
	tagID   string
	dropped atomic.Uint64
}

func (s *subscriber) wants(event alarmapp.AlarmEvent) bool {
	if s.alarmID != "" && s.alarmID != event.Alarm.ID {
		return false
	}
	return s.tagID == "" || s.tagID == event.Alarm.TagID
}

// SSEBroker pushes published alarm events to stream clients. A client whose buffer is
// full misses events instead of holding up publication; the gap shows in the event ids.
type SSEBroker struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	seq         atomic.Uint64
	logger      *zap.Logger
}

// NewSSEBroker constructs a broker.
func NewSSEBroker(logger *zap.Logger) *SSEBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEBroker{subscribers: make(map[*subscriber]struct{}), logger: logger}
}

// Notify implements AlarmNotifier.
func (b *SSEBroker) Notify(_ context.Context, event alarmapp.AlarmEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("alarm event encode failed", zap.String("alarm_id", event.Alarm.ID), zap.Error(err))
		return
	}
	out := streamEvent{seq: b.seq.Add(1), name: event.Type, payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.events <- out:
		default:
			if sub.dropped.Add(1) == 1 {
				b.logger.Debug("stream client lagging", zap.Uint64("seq", out.seq))
			}
		}
	}
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *SSEBroker) subscribe(alarmID, tagID string) *subscriber {
	sub := &subscriber{events: make(chan streamEvent, clientBuffer), alarmID: alarmID, tagID: tagID}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *SSEBroker) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	if dropped := sub.dropped.Load(); dropped > 0 {
		b.logger.Info("stream client closed with dropped events", zap.Uint64("dropped", dropped))
	}
}

// ServeStream handles GET /api/v1/alarms/stream. Optional alarm_id and tag_id query
// parameters narrow the stream.
func (b *SSEBroker) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	query := r.URL.Query()
	sub := b.subscribe(query.Get("alarm_id"), query.Get("tag_id"))
	defer b.unsubscribe(sub)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: ready\nid: %d\ndata: {}\n\n", b.seq.Load())
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case event := <-sub.events:
			fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event.name, event.seq, event.payload)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
