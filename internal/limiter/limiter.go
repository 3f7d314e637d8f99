package limiter

import (
	"sync"

	"prompt-morph/internal/morph"
)

// UserLimiter allows one active morph per user and holds each morph's
// interrupt token so that /stop can reach it.
type UserLimiter struct {
	mu          sync.Mutex
	activeUsers map[int64]*morph.Interrupt
	maxGlobal   int
}

// NewUserLimiter creates a new user limiter
// maxGlobalConcurrent of 0 means unlimited global concurrent morphs
func NewUserLimiter(maxGlobalConcurrent int) *UserLimiter {
	return &UserLimiter{
		activeUsers: make(map[int64]*morph.Interrupt),
		maxGlobal:   maxGlobalConcurrent,
	}
}

// TryAcquire attempts to acquire a slot for a user and returns the interrupt
// token of the new morph. It fails if the user already has an active morph or
// the global limit is reached.
func (l *UserLimiter) TryAcquire(userID int64) (*morph.Interrupt, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.activeUsers[userID]; exists {
		return nil, false
	}

	// 0 means unlimited
	if l.maxGlobal > 0 && len(l.activeUsers) >= l.maxGlobal {
		return nil, false
	}

	interrupt := &morph.Interrupt{}
	l.activeUsers[userID] = interrupt
	return interrupt, true
}

// Release releases a user's slot
func (l *UserLimiter) Release(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.activeUsers, userID)
}

// Stop signals the user's active morph. It reports false if there is none.
func (l *UserLimiter) Stop(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	interrupt, exists := l.activeUsers[userID]
	if !exists {
		return false
	}
	interrupt.Signal()
	return true
}

// ActiveCount returns the number of running morphs
func (l *UserLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.activeUsers)
}
