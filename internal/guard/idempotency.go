package guard

import (
	"context"
	"sync"

	"github.com/attaboy/matchsync/internal/domain"
)

// IdempotencyGuard rejects a key while an earlier request with the same key
// is still being processed.
type IdempotencyGuard struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewIdempotencyGuard creates a new in-memory idempotency guard.
func NewIdempotencyGuard() *IdempotencyGuard {
	return &IdempotencyGuard{
		inFlight: make(map[string]bool),
	}
}

// Check reserves key, or reports that it is already reserved.
func (ig *IdempotencyGuard) Check(_ context.Context, key string) domain.GuardResult {
	if key == "" {
		return domain.GuardResult{Allowed: true}
	}

	ig.mu.Lock()
	defer ig.mu.Unlock()

	if ig.inFlight[key] {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "duplicate request: identical submission already in flight",
			Guard:   "idempotency",
		}
	}

	ig.inFlight[key] = true
	return domain.GuardResult{Allowed: true}
}

// Release frees a reserved key once its request has completed.
func (ig *IdempotencyGuard) Release(key string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	delete(ig.inFlight, key)
}
