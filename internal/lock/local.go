package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Local is an in-process lock used when Redis is not configured. It only
// serialises holders inside one process. The zero value is ready to use.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// TryWithLock runs fn while holding key or returns ErrLocked. ttl is ignored.
func (l *Local) TryWithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]struct{})
	}
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return ErrLocked
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
