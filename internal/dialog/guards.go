// ABOUTME: Quota and ownership guards protecting dialog operations
// ABOUTME: QuotaGuard caps dialogs per user; OwnershipGuard verifies dialog ownership

package dialog

import (
	"context"
	"errors"
	"fmt"
)

// MaxDialogsPerUser is the hard ceiling on concurrently owned dialogs.
// Policy, not configuration.
const MaxDialogsPerUser = 5

// ErrQuotaExceeded is returned when creating a dialog would exceed
// MaxDialogsPerUser.
var ErrQuotaExceeded = errors.New("dialog quota exceeded")

// QuotaStore is the store subset the quota guard needs.
type QuotaStore interface {
	CountDialogs(ctx context.Context, userID string) (int, error)
}

// QuotaGuard enforces the per-user dialog ceiling at creation time.
type QuotaGuard struct {
	store QuotaStore
}

// NewQuotaGuard creates a quota guard backed by the given store.
func NewQuotaGuard(store QuotaStore) *QuotaGuard {
	return &QuotaGuard{store: store}
}

// CanCreateDialog reports whether the user may create another dialog.
// A store failure surfaces as an error, never as a quota refusal.
func (g *QuotaGuard) CanCreateDialog(ctx context.Context, userID string) (bool, error) {
	count, err := g.store.CountDialogs(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("counting dialogs: %w", err)
	}
	return count < MaxDialogsPerUser, nil
}

// OwnershipStore is the store subset the ownership guard needs.
type OwnershipStore interface {
	DialogExists(ctx context.Context, userID, dialogID string) (bool, error)
}

// OwnershipGuard verifies that a dialog belongs to the requesting user before
// any operation touches it. A dialog that doesn't exist and a dialog owned by
// someone else are indistinguishable to callers, so existence never leaks.
type OwnershipGuard struct {
	store OwnershipStore
}

// NewOwnershipGuard creates an ownership guard backed by the given store.
func NewOwnershipGuard(store OwnershipStore) *OwnershipGuard {
	return &OwnershipGuard{store: store}
}

// Owns reports whether the dialog exists and is owned by the user.
func (g *OwnershipGuard) Owns(ctx context.Context, userID, dialogID string) (bool, error) {
	exists, err := g.store.DialogExists(ctx, userID, dialogID)
	if err != nil {
		return false, fmt.Errorf("checking dialog ownership: %w", err)
	}
	return exists, nil
}
