// Package lock provides per-subject advisory locks for verification
// submissions. Locks expire after their TTL so a crashed holder cannot block
// a subject forever.
package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process lock table.
type Local struct {
	mu    sync.Mutex
	held  map[string]holder
	seq   uint64
	clock func() time.Time
}

type holder struct {
	id      uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]holder), clock: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	l.seq++
	id := l.seq
	l.held[key] = holder{id: id, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.id == id {
			delete(l.held, key)
		}
	}
	return release, true, nil
}
