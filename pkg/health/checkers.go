package health

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Heartbeat records the last time a background loop made progress.
// The zero value has never beaten.
type Heartbeat struct {
	last atomic.Int64
	now  func() time.Time
}

// NewHeartbeat creates a Heartbeat using the wall clock.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{now: time.Now}
}

// Beat records progress.
func (b *Heartbeat) Beat() {
	b.last.Store(b.clock().UnixNano())
}

// Last returns the time of the last beat, or the zero time.
func (b *Heartbeat) Last() time.Time {
	ns := b.last.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (b *Heartbeat) clock() time.Time {
	if b.now == nil {
		return time.Now()
	}
	return b.now()
}

// Check returns a CheckFunc failing when the heartbeat is older than maxAge
// or has never beaten.
func (b *Heartbeat) Check(maxAge time.Duration) CheckFunc {
	return func(_ context.Context) error {
		last := b.Last()
		if last.IsZero() {
			return errors.New("no heartbeat yet")
		}
		if age := b.clock().Sub(last); age > maxAge {
			return errors.Errorf("last heartbeat %s ago exceeds %s", age.Truncate(time.Millisecond), maxAge)
		}
		return nil
	}
}
