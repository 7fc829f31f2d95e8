package ledger

import "time"

// SetClock is a test helper that replaces the timestamp source of the in-memory ledger.
func SetClock(l Ledger, now func() time.Time) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.now = now
	}
}
