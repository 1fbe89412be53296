// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - User: identity resolved by the IdentityGate, created on first login
//   - Dialog: conversation thread owned by one user, with a busy flag
//   - Message: append-only utterance, authored by a user or by AIAuthorID
//
// # The busy flag
//
// Dialog.Busy is the coordination point between the synchronous send path and
// the asynchronous AI worker. It is written only through the two exchange
// transitions, each a single SQLite transaction:
//
//   - BeginExchange: busy 0→1 plus the user message insert
//   - DeliverReply: AI message insert plus busy 1→0
//
// BeginExchange flips the flag with a busy = 0 guard, so a second concurrent
// exchange on the same dialog fails with ErrDialogBusy rather than
// interleaving two outstanding messages.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are fixed-width nanosecond RFC3339 TEXT columns, which keeps
// per-dialog message order total under sub-second write bursts and
// lexicographically sortable.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist (or isn't owned by the caller)
//   - ErrDuplicateUser: external id already registered
//   - ErrDialogBusy: dialog already has a message awaiting a reply
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path for tests.
package store
