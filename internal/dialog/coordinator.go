// ABOUTME: MessageCoordinator — hands user messages to the out-of-band AI worker
// ABOUTME: Submit blocks on a per-dialog waiter until Push delivers the reply

package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepbot/deepbot-gateway/internal/store"
)

// Coordinator errors
var (
	// ErrUnauthorized is returned when the dialog is not owned by the caller.
	// Not-found and not-owned are deliberately the same error.
	ErrUnauthorized = errors.New("dialog not owned by user")

	// ErrDialogBusy is returned when the dialog already has a message awaiting
	// a reply; at most one exchange per dialog can be in flight.
	ErrDialogBusy = errors.New("dialog already awaiting reply")

	// ErrReplyTimeout is returned when the worker does not answer within the
	// reply timeout. The dialog stays busy so a late reply still lands; the
	// client picks it up from the dialog history on its next visit.
	ErrReplyTimeout = errors.New("timed out waiting for reply")
)

// ExchangeStore is the store subset the coordinator needs.
type ExchangeStore interface {
	BeginExchange(ctx context.Context, dialogID string, msg *store.Message) error
	DeliverReply(ctx context.Context, dialogID string, msg *store.Message) error
	GetBusy(ctx context.Context, userID, dialogID string) (bool, error)
	LatestMessageByAuthor(ctx context.Context, dialogID, authorID string) (*store.Message, error)
	ListPending(ctx context.Context) ([]*store.PendingMessage, error)
}

// Coordinator owns the busy-flag protocol between the synchronous send path
// and the asynchronous AI worker.
//
// Per-dialog state machine: idle (busy=false) → awaiting reply (busy=true,
// user message persisted) → idle again once the reply is persisted and the
// flag cleared. Both transitions are single store transactions.
//
// Submit registers a one-shot waiter keyed by dialog id; Push signals it
// directly after persisting the reply. A poll ticker on the persisted flag
// backs the waiter up, covering replies delivered through another process.
type Coordinator struct {
	store     ExchangeStore
	ownership *OwnershipGuard
	logger    *slog.Logger

	pollInterval time.Duration
	replyTimeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan string
}

// NewCoordinator creates a message coordinator.
func NewCoordinator(st ExchangeStore, ownership *OwnershipGuard, pollInterval, replyTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:        st,
		ownership:    ownership,
		logger:       logger.With("component", "coordinator"),
		pollInterval: pollInterval,
		replyTimeout: replyTimeout,
		waiters:      make(map[string]chan string),
	}
}

// Submit hands a user message to the worker and blocks until the reply
// arrives, the reply timeout fires, or the context is cancelled.
// Returns the AI reply content.
func (c *Coordinator) Submit(ctx context.Context, userID, dialogID, text string) (string, error) {
	owns, err := c.ownership.Owns(ctx, userID, dialogID)
	if err != nil {
		return "", err
	}
	if !owns {
		c.logger.Warn("submit to unowned dialog", "user_id", userID, "dialog_id", dialogID)
		return "", ErrUnauthorized
	}

	// Register the waiter before the busy flag is set so Push can't slip
	// between the transition and the registration.
	waiter := c.register(dialogID)
	defer c.deregister(dialogID)

	msg := &store.Message{
		ID:        uuid.New().String(),
		DialogID:  dialogID,
		AuthorID:  userID,
		Content:   text,
		CreatedAt: time.Now(),
	}
	if err := c.store.BeginExchange(ctx, dialogID, msg); err != nil {
		if errors.Is(err, store.ErrDialogBusy) {
			return "", ErrDialogBusy
		}
		if errors.Is(err, store.ErrNotFound) {
			// Dialog deleted between the ownership check and the transition
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("starting exchange: %w", err)
	}

	c.logger.Debug("exchange started, waiting for reply",
		"dialog_id", dialogID,
		"message_id", msg.ID)

	return c.awaitReply(ctx, userID, dialogID, waiter)
}

// awaitReply blocks until the reply is signalled, observed via the persisted
// flag, timed out, or the context is cancelled.
func (c *Coordinator) awaitReply(ctx context.Context, userID, dialogID string, waiter <-chan string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(c.replyTimeout)
	defer deadline.Stop()

	for {
		select {
		case content := <-waiter:
			return content, nil

		case <-ticker.C:
			busy, err := c.store.GetBusy(ctx, userID, dialogID)
			if err != nil {
				return "", fmt.Errorf("polling busy flag: %w", err)
			}
			if busy {
				continue
			}
			// Flag cleared by a Push we didn't get signalled for;
			// read the reply back from the store.
			reply, err := c.store.LatestMessageByAuthor(ctx, dialogID, store.AIAuthorID)
			if err != nil {
				return "", fmt.Errorf("reading reply: %w", err)
			}
			return reply.Content, nil

		case <-deadline.C:
			c.logger.Warn("reply timeout, dialog left awaiting",
				"dialog_id", dialogID,
				"timeout", c.replyTimeout)
			return "", ErrReplyTimeout

		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Pull returns the latest unanswered user message of every busy dialog.
// The scan is global and unleased: a single worker instance is a deployment
// constraint, not something the coordinator enforces.
func (c *Coordinator) Pull(ctx context.Context) ([]*store.PendingMessage, error) {
	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending messages: %w", err)
	}
	c.logger.Debug("worker pulled pending messages", "count", len(pending))
	return pending, nil
}

// Push persists the worker's reply, clears the busy flag, and releases the
// waiting Submit call if it lives in this process.
func (c *Coordinator) Push(ctx context.Context, dialogID, content string) error {
	msg := &store.Message{
		ID:        uuid.New().String(),
		DialogID:  dialogID,
		AuthorID:  store.AIAuthorID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := c.store.DeliverReply(ctx, dialogID, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("delivering reply: %w", err)
	}

	c.signal(dialogID, content)

	c.logger.Debug("reply pushed", "dialog_id", dialogID, "message_id", msg.ID)
	return nil
}

// register creates the one-shot waiter for a dialog. The channel is buffered
// so Push never blocks on a waiter that already gave up.
func (c *Coordinator) register(dialogID string) chan string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan string, 1)
	c.waiters[dialogID] = ch
	return ch
}

// deregister removes a dialog's waiter if present.
func (c *Coordinator) deregister(dialogID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, dialogID)
}

// signal delivers the reply content to the dialog's waiter, if one exists.
// No waiter is fine: the Submit call may have timed out or live in another
// process, in which case the persisted state carries the reply.
func (c *Coordinator) signal(dialogID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.waiters[dialogID]
	if !ok {
		return
	}
	select {
	case ch <- content:
	default:
	}
}
