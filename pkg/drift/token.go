package drift

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// Token is a node in a cancellation tree.
//
// Cancelling a token cancels every descendant, never an ancestor. The parent
// only holds weak references to its children, so a child that is no longer
// referenced (for example the per-tick token of a finished execution) can be
// collected without being cancelled or explicitly detached.
//
// Token implements context.Context: Done is closed on cancellation and Err
// returns context.Canceled, so it can be handed to any context-aware API.
type Token struct {
	cancelled atomic.Bool
	done      chan struct{}

	mu       sync.Mutex
	children []weak.Pointer[Token]
	parent   *Token // keeps the chain reachable while a descendant is alive
}

var _ context.Context = (*Token)(nil)

// NewToken returns a root token that is not cancelled.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// TokenFromContext returns a root token that is cancelled once ctx is done.
func TokenFromContext(ctx context.Context) *Token {
	t := NewToken()
	if ctx.Done() == nil {
		return t
	}
	context.AfterFunc(ctx, t.Cancel)
	return t
}

// Child derives a token cancelled together with t. A child of an already
// cancelled token is born cancelled.
func (t *Token) Child() *Token {
	c := &Token{done: make(chan struct{}), parent: t}

	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		c.Cancel()
		return c
	}
	t.children = pruneChildren(t.children)
	t.children = append(t.children, weak.Make(c))
	t.mu.Unlock()

	return c
}

// Cancel marks t and all of its live descendants as cancelled. It is
// idempotent and never waits for work observing the token.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		return
	}
	t.cancelled.Store(true)
	close(t.done)
	children := t.children
	t.children = nil
	t.mu.Unlock()

	for _, wp := range children {
		if c := wp.Value(); c != nil {
			c.Cancel()
		}
	}
}

// IsCancelled reports whether t or one of its ancestors has been cancelled.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load()
}

// Done returns a channel closed when t is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err returns context.Canceled once t is cancelled, nil before.
func (t *Token) Err() error {
	if t.cancelled.Load() {
		return context.Canceled
	}
	return nil
}

// Deadline implements context.Context. Tokens never carry a deadline.
func (t *Token) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

// Value implements context.Context. Tokens carry no values.
func (t *Token) Value(any) any {
	return nil
}

func pruneChildren(children []weak.Pointer[Token]) []weak.Pointer[Token] {
	live := children[:0]
	for _, wp := range children {
		if wp.Value() != nil {
			live = append(live, wp)
		}
	}
	clear(children[len(live):])
	return live
}
