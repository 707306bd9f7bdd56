package drift

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestToken_New(t *testing.T) {
	token := NewToken()

	assert.False(t, token.IsCancelled())
	assert.NoError(t, token.Err())
	assert.False(t, isClosed(token.Done()))

	_, ok := token.Deadline()
	assert.False(t, ok)
	assert.Nil(t, token.Value("key"))
}

func TestToken_CancelIsIdempotent(t *testing.T) {
	token := NewToken()

	token.Cancel()
	token.Cancel()

	assert.True(t, token.IsCancelled())
	assert.ErrorIs(t, token.Err(), context.Canceled)
	assert.True(t, isClosed(token.Done()))
}

func TestToken_CancelCascadesToDescendants(t *testing.T) {
	root := NewToken()
	child := root.Child()
	grandchild := child.Child()

	root.Cancel()

	for name, tok := range map[string]*Token{"child": child, "grandchild": grandchild} {
		assert.True(t, tok.IsCancelled(), name)
		assert.True(t, isClosed(tok.Done()), name)
	}
}

func TestToken_ChildCancelDoesNotBubbleUp(t *testing.T) {
	root := NewToken()
	child := root.Child()
	sibling := root.Child()
	grandchild := child.Child()

	child.Cancel()

	assert.True(t, child.IsCancelled())
	assert.True(t, grandchild.IsCancelled())
	assert.False(t, root.IsCancelled(), "parent must not observe a child cancel")
	assert.False(t, sibling.IsCancelled(), "sibling must not observe a child cancel")
}

func TestToken_ChildOfCancelledParentIsBornCancelled(t *testing.T) {
	root := NewToken()
	root.Cancel()

	child := root.Child()

	assert.True(t, child.IsCancelled())
	assert.True(t, isClosed(child.Done()))
}

func TestToken_DoneBlocksUntilCancel(t *testing.T) {
	root := NewToken()
	child := root.Child()

	released := make(chan struct{})
	go func() {
		<-child.Done()
		close(released)
	}()

	assert.Never(t, func() bool { return isClosed(released) }, 50*time.Millisecond, 5*time.Millisecond)

	root.Cancel()

	require.Eventually(t, func() bool { return isClosed(released) }, time.Second, 5*time.Millisecond)
}

func TestToken_ConcurrentCancel(t *testing.T) {
	root := NewToken()
	children := make([]*Token, 32)
	for i := range children {
		children[i] = root.Child()
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			root.Cancel()
		}()
		go func() {
			defer wg.Done()
			_ = root.IsCancelled()
			_ = root.Child()
		}()
	}
	wg.Wait()

	for _, c := range children {
		assert.True(t, c.IsCancelled())
	}
	assert.True(t, root.Child().IsCancelled())
}

func TestToken_UsableAsContext(t *testing.T) {
	token := NewToken()
	ctx, cancel := context.WithTimeout(token, time.Hour)
	defer cancel()

	token.Cancel()

	require.Eventually(t, func() bool {
		return ctx.Err() != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestTokenFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	token := TokenFromContext(ctx)
	child := token.Child()

	assert.False(t, token.IsCancelled())

	cancel()

	require.Eventually(t, child.IsCancelled, time.Second, 5*time.Millisecond)
	assert.True(t, token.IsCancelled())
}

func TestTokenFromContext_Background(t *testing.T) {
	token := TokenFromContext(context.Background())

	assert.False(t, token.IsCancelled())
	token.Cancel()
	assert.True(t, token.IsCancelled())
}

func TestToken_DiscardedChildrenAreReleased(t *testing.T) {
	root := NewToken()
	for i := 0; i < 1000; i++ {
		_ = root.Child()
	}

	keep := root.Child()

	require.Eventually(t, func() bool {
		runtime.GC()
		root.mu.Lock()
		defer root.mu.Unlock()
		root.children = pruneChildren(root.children)
		return len(root.children) == 1
	}, 2*time.Second, 10*time.Millisecond)

	root.Cancel()
	assert.True(t, keep.IsCancelled())
}
