package dispatcher

import (
	"strings"
	"sync"
)

// inflightLimiter caps concurrent in-process requests per provider:model so
// a burst of jobs cannot pile onto a single deployment.
type inflightLimiter struct {
	max int
	mu  sync.Mutex
	sem map[string]chan struct{}
}

func newInflightLimiter(max int) *inflightLimiter {
	if max <= 0 {
		max = 2
	}
	return &inflightLimiter{max: max, sem: map[string]chan struct{}{}}
}

// Allow tries to reserve a slot. Returns a release function and true if a
// slot was available.
func (l *inflightLimiter) Allow(provider, model string) (func(), bool) {
	key := strings.ToLower(provider) + ":" + strings.ToLower(model)
	l.mu.Lock()
	ch, ok := l.sem[key]
	if !ok {
		ch = make(chan struct{}, l.max)
		l.sem[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}
