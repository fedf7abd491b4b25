package middleware

import (
	"sync"
	"time"
)

type clientInfo struct {
	start time.Time
	count int64
}

// localWindow is the in-process fixed-window counter used when Redis is
// not configured or unreachable. Counts are per instance.
type localWindow struct {
	mu      sync.Mutex
	clients map[string]*clientInfo
	now     func() time.Time
}

const localSweepSize = 4096

func newLocalWindow() *localWindow {
	return &localWindow{clients: make(map[string]*clientInfo), now: time.Now}
}

// incr counts one hit for key and returns the count in the current window.
func (l *localWindow) incr(key string, window time.Duration) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.clients) >= localSweepSize {
		for k, ci := range l.clients {
			if now.Sub(ci.start) > window {
				delete(l.clients, k)
			}
		}
	}

	ci, ok := l.clients[key]
	if !ok || now.Sub(ci.start) > window {
		l.clients[key] = &clientInfo{start: now, count: 1}
		return 1
	}
	ci.count++
	return ci.count
}
