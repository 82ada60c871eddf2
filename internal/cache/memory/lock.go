package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// LockManager implements domain.LockManager for a single process. Locks
// expire after their TTL like the redis implementation.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	now   func() time.Time
	round uint64
}

type lease struct {
	id        uint64
	expiresAt time.Time
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), now: time.Now}
}

// Acquire returns domain.ErrLockHeld while another holder's lease is live.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if l, ok := lm.held[key]; ok && now.Before(l.expiresAt) {
		return nil, domain.ErrLockHeld
	}
	lm.round++
	id := lm.round
	lm.held[key] = lease{id: id, expiresAt: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.id == id {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
