// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/dialog/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width RFC3339 text with nanoseconds.
// Nano precision keeps message order total even when two writes land within
// the same second; the fixed width keeps that order lexicographic, which the
// RFC3339Nano layout breaks by trimming trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			email       TEXT NOT NULL,
			given_name  TEXT NOT NULL,
			family_name TEXT NOT NULL,
			picture     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id);

		CREATE TABLE IF NOT EXISTS dialogs (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			busy       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_dialogs_user_id ON dialogs(user_id);
		CREATE INDEX IF NOT EXISTS idx_dialogs_busy ON dialogs(busy);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			dialog_id  TEXT NOT NULL,
			author_id  TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (dialog_id) REFERENCES dialogs(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_dialog_created
			ON messages(dialog_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_dialog_author
			ON messages(dialog_id, author_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateUser creates a new user row.
// Returns ErrDuplicateUser if a user with the same external id already exists.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, external_id, email, given_name, family_name, picture, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.ExternalID,
		user.Email,
		user.GivenName,
		user.FamilyName,
		user.Picture,
		user.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "external_id", user.ExternalID)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, external_id, email, given_name, family_name, picture, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// FindUserByExternalID retrieves a user by the identity provider's id.
// Returns ErrNotFound if no such user has logged in before.
func (s *SQLiteStore) FindUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	query := `
		SELECT id, external_id, email, given_name, family_name, picture, created_at
		FROM users
		WHERE external_id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, externalID))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string

	err := row.Scan(
		&user.ID,
		&user.ExternalID,
		&user.Email,
		&user.GivenName,
		&user.FamilyName,
		&user.Picture,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CreateDialog creates a new dialog owned by dialog.UserID.
// Quota enforcement is the caller's responsibility.
func (s *SQLiteStore) CreateDialog(ctx context.Context, dialog *Dialog) error {
	query := `
		INSERT INTO dialogs (id, user_id, name, busy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	busy := 0
	if dialog.Busy {
		busy = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		dialog.ID,
		dialog.UserID,
		dialog.Name,
		busy,
		dialog.CreatedAt.UTC().Format(timeLayout),
		dialog.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting dialog: %w", err)
	}

	s.logger.Debug("created dialog", "id", dialog.ID, "user_id", dialog.UserID)
	return nil
}

// ListDialogs retrieves all dialogs owned by a user, oldest first.
func (s *SQLiteStore) ListDialogs(ctx context.Context, userID string) ([]*Dialog, error) {
	query := `
		SELECT id, user_id, name, busy, created_at, updated_at
		FROM dialogs
		WHERE user_id = ?
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying dialogs: %w", err)
	}
	defer rows.Close()

	var dialogs []*Dialog
	for rows.Next() {
		dialog, err := scanDialog(rows)
		if err != nil {
			return nil, err
		}
		dialogs = append(dialogs, dialog)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dialogs: %w", err)
	}

	return dialogs, nil
}

func scanDialog(rows *sql.Rows) (*Dialog, error) {
	var dialog Dialog
	var busy int
	var createdAtStr, updatedAtStr string

	err := rows.Scan(
		&dialog.ID,
		&dialog.UserID,
		&dialog.Name,
		&busy,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning dialog: %w", err)
	}

	dialog.Busy = busy != 0

	dialog.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	dialog.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &dialog, nil
}

// CountDialogs returns the number of dialogs currently owned by a user.
func (s *SQLiteStore) CountDialogs(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dialogs WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting dialogs: %w", err)
	}
	return count, nil
}

// DialogExists reports whether a dialog with the given id is owned by the given
// user. A dialog that exists but belongs to someone else reads as false, same
// as one that doesn't exist.
func (s *SQLiteStore) DialogExists(ctx context.Context, userID, dialogID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dialogs WHERE id = ? AND user_id = ?`, dialogID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying dialog existence: %w", err)
	}
	return true, nil
}

// RenameDialog updates a dialog's name, keyed on both dialog id and owner id so
// a non-owner's request matches zero rows. Returns ErrNotFound on zero rows.
func (s *SQLiteStore) RenameDialog(ctx context.Context, userID, dialogID, name string) error {
	query := `
		UPDATE dialogs
		SET name = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		name,
		time.Now().UTC().Format(timeLayout),
		dialogID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("renaming dialog: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("renamed dialog", "id", dialogID, "name", name)
	return nil
}

// DeleteDialog removes a dialog and its messages, keyed on both ids like
// RenameDialog. Returns ErrNotFound on zero rows.
func (s *SQLiteStore) DeleteDialog(ctx context.Context, userID, dialogID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM dialogs WHERE id = ? AND user_id = ?`, dialogID, userID)
	if err != nil {
		return fmt.Errorf("deleting dialog: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted dialog", "id", dialogID, "user_id", userID)
	return nil
}

// GetBusy reads a dialog's busy flag. Returns ErrNotFound if the dialog is not
// owned by the given user.
func (s *SQLiteStore) GetBusy(ctx context.Context, userID, dialogID string) (bool, error) {
	var busy int
	err := s.db.QueryRowContext(ctx,
		`SELECT busy FROM dialogs WHERE id = ? AND user_id = ?`, dialogID, userID).Scan(&busy)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying busy flag: %w", err)
	}
	return busy != 0, nil
}

// SetBusy writes a dialog's busy flag directly, guarded on ownership.
// The exchange transitions are the normal writers; this exists for flag
// reconciliation, for example clearing a dialog stuck after a worker outage.
func (s *SQLiteStore) SetBusy(ctx context.Context, userID, dialogID string, busy bool) error {
	flag := 0
	if busy {
		flag = 1
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE dialogs SET busy = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		flag, time.Now().UTC().Format(timeLayout), dialogID, userID)
	if err != nil {
		return fmt.Errorf("setting busy flag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking set busy result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message row.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, dialog_id, author_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.DialogID,
		msg.AuthorID,
		msg.Content,
		msg.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "dialog_id", msg.DialogID, "author_id", msg.AuthorID)
	return nil
}

// ListMessages retrieves all messages in a dialog in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, dialogID string) ([]*Message, error) {
	query := `
		SELECT id, dialog_id, author_id, content, created_at
		FROM messages
		WHERE dialog_id = ?
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, dialogID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var msg Message
	var createdAtStr string

	err := rows.Scan(
		&msg.ID,
		&msg.DialogID,
		&msg.AuthorID,
		&msg.Content,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// LatestMessageByAuthor retrieves the most recent message a given author wrote
// in a dialog. Returns ErrNotFound if the author has no messages there.
func (s *SQLiteStore) LatestMessageByAuthor(ctx context.Context, dialogID, authorID string) (*Message, error) {
	query := `
		SELECT id, dialog_id, author_id, content, created_at
		FROM messages
		WHERE dialog_id = ? AND author_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var msg Message
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, dialogID, authorID).Scan(
		&msg.ID,
		&msg.DialogID,
		&msg.AuthorID,
		&msg.Content,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}

	msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// BeginExchange atomically marks a dialog busy and records the user's message.
// The flag flip is guarded with busy = 0: a dialog that is already awaiting a
// reply returns ErrDialogBusy, and a dialog that doesn't exist returns
// ErrNotFound. Either both writes land or neither does.
func (s *SQLiteStore) BeginExchange(ctx context.Context, dialogID string, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning exchange transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	result, err := tx.ExecContext(ctx,
		`UPDATE dialogs SET busy = 1, updated_at = ? WHERE id = ? AND busy = 0`,
		now, dialogID)
	if err != nil {
		return fmt.Errorf("setting busy flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing dialog from one already in flight
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM dialogs WHERE id = ?`, dialogID).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking dialog: %w", err)
		}
		return ErrDialogBusy
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, dialog_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.DialogID, msg.AuthorID, msg.Content, msg.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting user message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing exchange: %w", err)
	}

	s.logger.Debug("exchange started", "dialog_id", dialogID, "message_id", msg.ID)
	return nil
}

// DeliverReply atomically records the AI's reply and clears the busy flag.
// Returns ErrNotFound if the dialog doesn't exist.
func (s *SQLiteStore) DeliverReply(ctx context.Context, dialogID string, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reply transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE dialogs SET busy = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), dialogID)
	if err != nil {
		return fmt.Errorf("clearing busy flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, dialog_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.DialogID, msg.AuthorID, msg.Content, msg.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting reply message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reply: %w", err)
	}

	s.logger.Debug("reply delivered", "dialog_id", dialogID, "message_id", msg.ID)
	return nil
}

// ListPending returns, for every busy dialog, its latest non-AI message.
// This is the worker's global pull feed; it is not scoped or leased, so it
// assumes a single worker instance.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*PendingMessage, error) {
	query := `
		SELECT m.dialog_id, m.author_id, m.content
		FROM messages m
		JOIN dialogs d ON m.dialog_id = d.id
		WHERE d.busy = 1
		  AND m.author_id != ?
		  AND m.created_at = (
			SELECT MAX(m2.created_at) FROM messages m2
			WHERE m2.dialog_id = m.dialog_id AND m2.author_id != ?
		  )
	`

	rows, err := s.db.QueryContext(ctx, query, AIAuthorID, AIAuthorID)
	if err != nil {
		return nil, fmt.Errorf("querying pending messages: %w", err)
	}
	defer rows.Close()

	var pending []*PendingMessage
	for rows.Next() {
		var p PendingMessage
		if err := rows.Scan(&p.DialogID, &p.UserID, &p.Content); err != nil {
			return nil, fmt.Errorf("scanning pending message: %w", err)
		}
		pending = append(pending, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending messages: %w", err)
	}

	return pending, nil
}
