// Package correlator matches asynchronous results to the in-flight requests
// that are waiting for them.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout is delivered to a waiter whose entry expired unresolved.
	ErrTimeout = errors.New("timed out waiting for result")
	// ErrDuplicate is returned when a key is registered twice.
	ErrDuplicate = errors.New("duplicate pending key")
)

// Key builds the composite key for a tool call within a run.
func Key(runID, callID string) string {
	return runID + "/" + callID
}

type outcome[T any] struct {
	value T
	err   error
}

type entry[T any] struct {
	ch    chan outcome[T]
	timer *time.Timer
}

// Correlator tracks pending entries keyed by string. Each entry resolves
// exactly once: by Resolve, by Reject, or by its timeout firing. The entry is
// removed from the table in all three cases.
type Correlator[T any] struct {
	mu      sync.Mutex
	pending map[string]*entry[T]
}

// New returns an empty Correlator.
func New[T any]() *Correlator[T] {
	return &Correlator[T]{pending: make(map[string]*entry[T])}
}

// Pending is the waiting side of a registered key.
type Pending[T any] struct {
	key string
	c   *Correlator[T]
	ch  <-chan outcome[T]
}

// Register creates a pending entry for key that is rejected with ErrTimeout
// after timeout.
func (c *Correlator[T]) Register(key string, timeout time.Duration) (*Pending[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	e := &entry[T]{ch: make(chan outcome[T], 1)}
	c.pending[key] = e
	e.timer = time.AfterFunc(timeout, func() {
		c.Reject(key, ErrTimeout)
	})
	return &Pending[T]{key: key, c: c, ch: e.ch}, nil
}

// Resolve completes key with value. It reports false when key is unknown,
// already settled, or expired.
func (c *Correlator[T]) Resolve(key string, value T) bool {
	return c.settle(key, outcome[T]{value: value})
}

// Reject completes key with err.
func (c *Correlator[T]) Reject(key string, err error) bool {
	return c.settle(key, outcome[T]{err: err})
}

// Len returns the number of unsettled entries.
func (c *Correlator[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator[T]) settle(key string, o outcome[T]) bool {
	c.mu.Lock()
	e, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	e.ch <- o
	return true
}

// Key returns the key this Pending was registered under.
func (p *Pending[T]) Key() string {
	return p.key
}

// Wait blocks until the entry settles or ctx is done. On ctx cancellation the
// entry is rejected so it cannot leak.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case o := <-p.ch:
		return o.value, o.err
	case <-ctx.Done():
		p.c.Reject(p.key, ctx.Err())
		var zero T
		return zero, ctx.Err()
	}
}
