package notify

import (
	"hash/fnv"
	"sync"
	"time"
)

type lastSend struct {
	at     time.Time
	digest uint64
}

// throttle limits repeated notifications per alarm and event. cooldown blocks any resend;
// window blocks only resends with identical content.
type throttle struct {
	cooldown time.Duration
	window   time.Duration

	mu   sync.Mutex
	last map[string]lastSend
}

func newThrottle(cooldown, window time.Duration) *throttle {
	return &throttle{cooldown: cooldown, window: window, last: make(map[string]lastSend)}
}

func (t *throttle) allow(key, content string, now time.Time) bool {
	if t.cooldown <= 0 && t.window <= 0 {
		return true
	}
	t.mu.Lock()
	prev, ok := t.last[key]
	t.mu.Unlock()
	if !ok {
		return true
	}
	elapsed := now.Sub(prev.at)
	if t.cooldown > 0 && elapsed < t.cooldown {
		return false
	}
	return !(t.window > 0 && elapsed < t.window && prev.digest == digest(content))
}

func (t *throttle) record(key, content string, now time.Time) {
	t.mu.Lock()
	t.last[key] = lastSend{at: now, digest: digest(content)}
	t.mu.Unlock()
}

func digest(content string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return h.Sum64()
}
