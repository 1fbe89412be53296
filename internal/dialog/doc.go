// ABOUTME: Package documentation for the dialog coordination layer
// ABOUTME: Explains the busy-flag exchange protocol and the guard types

// Package dialog coordinates message exchange between users and the AI worker.
//
// The central type is Coordinator, which owns the per-dialog busy flag
// protocol. A user's Submit call persists the message, marks the dialog
// busy, and blocks. The worker pulls the latest unanswered message of every
// busy dialog, computes a reply out of band, and pushes it back; Push
// persists the reply, clears the flag, and releases the blocked Submit.
//
// Both transitions are single store transactions, so a crash between them
// leaves the dialog either cleanly idle or cleanly awaiting a reply, never
// half-exchanged. A second Submit against a busy dialog is refused with
// ErrDialogBusy. A Submit whose reply never arrives gives up after the
// configured reply timeout with ErrReplyTimeout, leaving the flag set so a
// late reply still lands in the dialog history.
//
// QuotaGuard and OwnershipGuard protect the dialog CRUD surface: at most
// MaxDialogsPerUser dialogs per user, and every dialog-scoped operation
// requires ownership, with not-found and not-owned reported identically.
package dialog
