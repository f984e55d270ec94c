package rate

import (
	"sync"
	"time"

	"arbflow/logger"
)

// WSTracker tracks outgoing websocket messages and connection attempts for a
// streaming order book feed.
type WSTracker struct {
	mu       sync.Mutex
	window   time.Time
	msgs     int
	attempts int
}

// NewWSTracker creates a new tracker.
func NewWSTracker() *WSTracker {
	return &WSTracker{window: time.Now()}
}

// RegisterOutgoing records n outgoing client messages (subs/pings).
func (t *WSTracker) RegisterOutgoing(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.window) >= time.Second {
		t.msgs = 0
		t.window = now
	}
	t.msgs += n
}

// RegisterConnectionAttempt records a websocket handshake attempt.
func (t *WSTracker) RegisterConnectionAttempt() {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
}

// Stats returns the current message count within the one second window and the
// total connection attempts.
func (t *WSTracker) Stats() (msgs int, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs = t.msgs
	attempts = t.attempts
	return
}

// ReportWSWeight emits websocket related metrics for an exchange stream.
func ReportWSWeight(log *logger.Log, t *WSTracker, exchange string) {
	msgs, attempts := t.Stats()
	component := exchange + "_stream"
	l := log.WithComponent(component)
	fields := logger.Fields{"exchange": exchange}
	l.LogMetric(component, "outgoing_messages", int64(msgs), "gauge", fields)
	l.LogMetric(component, "connection_attempts", int64(attempts), "counter", fields)
}
