package wiki

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPageInUse is returned by a non-blocking Acquire when the title is held.
var ErrPageInUse = errors.New("page in use")

// PageLocker serializes writes per page title.
//
// Two code paths may append to the same log page concurrently (the batch
// scheduler and the live correlator); both must hold the title lock around
// the read-modify-write. Locks are in-process only, which is sufficient
// because this bot is the single writer of its log pages.
type PageLocker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked map[string]bool
}

// NewPageLocker returns an empty PageLocker.
func NewPageLocker() *PageLocker {
	l := &PageLocker{locked: make(map[string]bool)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire locks the title. With block=true it waits until the title is free;
// otherwise it fails fast with ErrPageInUse.
func (l *PageLocker) Acquire(title string, block bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.locked[title] {
		if !block {
			return fmt.Errorf("%w: %s", ErrPageInUse, title)
		}
		l.cond.Wait()
	}
	l.locked[title] = true
	return nil
}

// Release unlocks the title. Must be called on all exit paths; releasing an
// unheld title is a no-op.
func (l *PageLocker) Release(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locked, title)
	l.cond.Broadcast()
}
