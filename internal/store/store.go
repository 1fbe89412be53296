// ABOUTME: Store interface and data types for deepbot-gateway persistence
// ABOUTME: Defines User, Dialog, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// AIAuthorID is the distinguished author id for messages written by the AI worker.
const AIAuthorID = "ai"

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when creating a user whose external id is already registered
var ErrDuplicateUser = errors.New("user already exists")

// ErrDialogBusy is returned by BeginExchange when the dialog already has a message in flight
var ErrDialogBusy = errors.New("dialog busy")

// User represents an authenticated end user, created on first login
type User struct {
	ID         string
	ExternalID string
	Email      string
	GivenName  string
	FamilyName string
	Picture    string
	CreatedAt  time.Time
}

// Dialog is a conversation thread owned by exactly one user.
// Busy marks that a user message is awaiting an AI reply; it is written
// only by the coordinator's exchange transitions, never directly.
type Dialog struct {
	ID        string
	UserID    string
	Name      string
	Busy      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single utterance within a dialog. AuthorID is either a user id
// or AIAuthorID. Messages are append-only and ordered by CreatedAt.
type Message struct {
	ID        string
	DialogID  string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// PendingMessage is one row of the worker's pull feed: the latest unanswered
// user message of a busy dialog.
type PendingMessage struct {
	DialogID string
	UserID   string
	Content  string
}

// Store defines the interface for user, dialog and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByExternalID(ctx context.Context, externalID string) (*User, error)

	// Dialogs
	CreateDialog(ctx context.Context, dialog *Dialog) error
	ListDialogs(ctx context.Context, userID string) ([]*Dialog, error)
	CountDialogs(ctx context.Context, userID string) (int, error)
	DialogExists(ctx context.Context, userID, dialogID string) (bool, error)
	RenameDialog(ctx context.Context, userID, dialogID, name string) error
	DeleteDialog(ctx context.Context, userID, dialogID string) error
	GetBusy(ctx context.Context, userID, dialogID string) (bool, error)
	SetBusy(ctx context.Context, userID, dialogID string, busy bool) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, dialogID string) ([]*Message, error)
	LatestMessageByAuthor(ctx context.Context, dialogID, authorID string) (*Message, error)

	// Exchange transitions (each is a single transaction)
	BeginExchange(ctx context.Context, dialogID string, msg *Message) error
	DeliverReply(ctx context.Context, dialogID string, msg *Message) error
	ListPending(ctx context.Context) ([]*PendingMessage, error)

	// Close releases any resources held by the store
	Close() error
}
