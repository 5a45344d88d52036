package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// threadLocks serializes work per thread id. Holding a thread's lock across
// the whole inbound sequence guarantees the history handed to the generator
// reflects every prior turn; different threads proceed in parallel.
//
// Entries are reference-counted and removed when idle, so the map stays
// proportional to in-flight threads, not all threads ever seen.
type threadLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// lock blocks until the thread's lock is held and returns the unlock func.
func (l *threadLocks) lock(threadID uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.entries[threadID]
	if !ok {
		entry = &lockEntry{}
		l.entries[threadID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, threadID)
		}
		l.mu.Unlock()
	}
}
