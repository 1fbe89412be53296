package dialog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepbot/deepbot-gateway/internal/store"
)

// setupCoordinator wires a coordinator to a real SQLite store with short
// intervals so the timeout paths run fast.
func setupCoordinator(t *testing.T, replyTimeout time.Duration) (*Coordinator, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ownership := NewOwnershipGuard(st)
	coord := NewCoordinator(st, ownership, 20*time.Millisecond, replyTimeout, nil)
	return coord, st
}

func seedDialog(t *testing.T, st *store.SQLiteStore, userID, dialogID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, &store.User{
		ID:         userID,
		ExternalID: "ext-" + userID,
		CreatedAt:  time.Now().UTC(),
	}))
	now := time.Now().UTC()
	require.NoError(t, st.CreateDialog(ctx, &store.Dialog{
		ID:        dialogID,
		UserID:    userID,
		Name:      "test dialog",
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestSubmitPullPushRoundTrip(t *testing.T) {
	coord, st := setupCoordinator(t, 5*time.Second)
	seedDialog(t, st, "user-1", "dialog-1")
	ctx := context.Background()

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := coord.Submit(ctx, "user-1", "dialog-1", "hello")
		done <- result{reply, err}
	}()

	// Wait until the exchange is visible to the worker.
	var pending []*store.PendingMessage
	require.Eventually(t, func() bool {
		var err error
		pending, err = coord.Pull(ctx)
		return err == nil && len(pending) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "dialog-1", pending[0].DialogID)
	assert.Equal(t, "hello", pending[0].Content)

	require.NoError(t, coord.Push(ctx, "dialog-1", "hi there"))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "hi there", res.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return after push")
	}

	// Flag cleared, history holds both messages in order.
	busy, err := st.GetBusy(ctx, "user-1", "dialog-1")
	require.NoError(t, err)
	assert.False(t, busy)

	msgs, err := st.ListMessages(ctx, "dialog-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user-1", msgs[0].AuthorID)
	assert.Equal(t, store.AIAuthorID, msgs[1].AuthorID)
}

func TestSubmitUnownedDialog(t *testing.T) {
	coord, st := setupCoordinator(t, time.Second)
	seedDialog(t, st, "user-1", "dialog-1")

	_, err := coord.Submit(context.Background(), "user-2", "dialog-1", "hello")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSubmitMissingDialog(t *testing.T) {
	coord, _ := setupCoordinator(t, time.Second)

	_, err := coord.Submit(context.Background(), "user-1", "no-such-dialog", "hello")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSubmitWhileBusy(t *testing.T) {
	coord, st := setupCoordinator(t, 5*time.Second)
	seedDialog(t, st, "user-1", "dialog-1")
	ctx := context.Background()

	go func() {
		coord.Submit(ctx, "user-1", "dialog-1", "first")
	}()

	require.Eventually(t, func() bool {
		busy, err := st.GetBusy(ctx, "user-1", "dialog-1")
		return err == nil && busy
	}, 2*time.Second, 10*time.Millisecond)

	_, err := coord.Submit(ctx, "user-1", "dialog-1", "second")
	assert.ErrorIs(t, err, ErrDialogBusy)

	// The refused message was not persisted.
	msgs, err := st.ListMessages(ctx, "dialog-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)

	require.NoError(t, coord.Push(ctx, "dialog-1", "done"))
}

func TestSubmitReplyTimeout(t *testing.T) {
	coord, st := setupCoordinator(t, 100*time.Millisecond)
	seedDialog(t, st, "user-1", "dialog-1")
	ctx := context.Background()

	_, err := coord.Submit(ctx, "user-1", "dialog-1", "hello")
	assert.ErrorIs(t, err, ErrReplyTimeout)

	// The flag stays set so a late reply still lands.
	busy, err := st.GetBusy(ctx, "user-1", "dialog-1")
	require.NoError(t, err)
	assert.True(t, busy)

	// A late push is accepted and recorded.
	require.NoError(t, coord.Push(ctx, "dialog-1", "sorry, got distracted"))
	msgs, err := st.ListMessages(ctx, "dialog-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.AIAuthorID, msgs[1].AuthorID)
}

func TestSubmitContextCancelled(t *testing.T) {
	coord, st := setupCoordinator(t, 5*time.Second)
	seedDialog(t, st, "user-1", "dialog-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := coord.Submit(ctx, "user-1", "dialog-1", "hello")
		done <- err
	}()

	require.Eventually(t, func() bool {
		busy, err := st.GetBusy(context.Background(), "user-1", "dialog-1")
		return err == nil && busy
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return after cancellation")
	}
}

func TestSubmitPollFallback(t *testing.T) {
	coord, st := setupCoordinator(t, 5*time.Second)
	seedDialog(t, st, "user-1", "dialog-1")
	ctx := context.Background()

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := coord.Submit(ctx, "user-1", "dialog-1", "hello")
		done <- result{reply, err}
	}()

	require.Eventually(t, func() bool {
		busy, err := st.GetBusy(ctx, "user-1", "dialog-1")
		return err == nil && busy
	}, 2*time.Second, 10*time.Millisecond)

	// Reply delivered straight through the store, bypassing the waiter,
	// as another gateway process would.
	require.NoError(t, st.DeliverReply(ctx, "dialog-1", &store.Message{
		ID:        "reply-1",
		DialogID:  "dialog-1",
		AuthorID:  store.AIAuthorID,
		Content:   "out of band",
		CreatedAt: time.Now().UTC(),
	}))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "out of band", res.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not observe the persisted reply")
	}
}

func TestPushMissingDialog(t *testing.T) {
	coord, _ := setupCoordinator(t, time.Second)

	err := coord.Push(context.Background(), "no-such-dialog", "hello?")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPullEmptyWhenNothingPending(t *testing.T) {
	coord, st := setupCoordinator(t, time.Second)
	seedDialog(t, st, "user-1", "dialog-1")

	pending, err := coord.Pull(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
