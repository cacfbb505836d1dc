package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deskchat/deskchat-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room       TEXT NOT NULL,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL,
	body       TEXT NOT NULL,
	is_read    BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_parties ON messages(sender, receiver);

CREATE TABLE IF NOT EXISTS presence (
	token     TEXT PRIMARY KEY,
	username  TEXT NOT NULL,
	room      TEXT NOT NULL,
	role      TEXT NOT NULL,
	joined_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS help_requests (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	room       TEXT NOT NULL,
	message    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function after
// the schema is applied. Useful for tests that need seeded data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// UpsertUser creates the user if it does not exist and returns the stored
// record. An existing user's role is left untouched.
func (s *SQLiteStore) UpsertUser(ctx context.Context, username, role string) (*store.User, error) {
	query := `
		INSERT INTO users (username, role)
		VALUES (?, ?)
		ON CONFLICT(username) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, username, role); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUserByUsername(ctx, username)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, role, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and sets its assigned ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (room, sender, receiver, body, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.Room, msg.Sender, msg.Receiver, msg.Body, msg.IsRead, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id

	return nil
}

// ListMessagesForRoom returns messages for a room in chronological order.
func (s *SQLiteStore) ListMessagesForRoom(ctx context.Context, room string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, room, sender, receiver, body, is_read, created_at
		FROM messages
		WHERE room = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []any{room}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryMessages(ctx, query, args...)
}

// ListMessagesBetween returns messages exchanged between two usernames.
func (s *SQLiteStore) ListMessagesBetween(ctx context.Context, a, b string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, room, sender, receiver, body, is_read, created_at
		FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY created_at ASC, id ASC
	`
	args := []any{a, b, b, a}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryMessages(ctx, query, args...)
}

// ListMessagesInvolving returns every message sent or received by username.
func (s *SQLiteStore) ListMessagesInvolving(ctx context.Context, username string) ([]*store.Message, error) {
	query := `
		SELECT id, room, sender, receiver, body, is_read, created_at
		FROM messages
		WHERE sender = ? OR receiver = ?
		ORDER BY created_at ASC, id ASC
	`
	return s.queryMessages(ctx, query, username, username)
}

// MarkRead flags all messages in the room addressed to the recipient as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, room, recipient string) error {
	query := `
		UPDATE messages
		SET is_read = 1
		WHERE room = ? AND receiver = ?
	`
	if _, err := s.db.ExecContext(ctx, query, room, recipient); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Room,
			&msg.Sender,
			&msg.Receiver,
			&msg.Body,
			&msg.IsRead,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// ==== PresenceStore implementation ====

// AddPresence records one open connection.
func (s *SQLiteStore) AddPresence(ctx context.Context, p *store.Presence) error {
	query := `
		INSERT INTO presence (token, username, room, role, joined_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, p.Token, p.Username, p.Room, p.Role, p.JoinedAt); err != nil {
		return fmt.Errorf("insert presence: %w", err)
	}
	return nil
}

// RemovePresence deletes the presence row for a connection token.
func (s *SQLiteStore) RemovePresence(ctx context.Context, token string) error {
	query := `DELETE FROM presence WHERE token = ?`
	if _, err := s.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

// ListPresence returns all current presence records.
func (s *SQLiteStore) ListPresence(ctx context.Context) ([]*store.Presence, error) {
	query := `
		SELECT token, username, room, role, joined_at
		FROM presence
		ORDER BY joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	defer rows.Close()

	var records []*store.Presence
	for rows.Next() {
		var p store.Presence
		if err := rows.Scan(&p.Token, &p.Username, &p.Room, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		records = append(records, &p)
	}

	return records, rows.Err()
}

// ==== HelpRequestStore implementation ====

// CreateHelpRequest persists a new help request.
func (s *SQLiteStore) CreateHelpRequest(ctx context.Context, hr *store.HelpRequest) error {
	query := `
		INSERT INTO help_requests (id, username, room, message, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		hr.ID, hr.Username, hr.Room, hr.Message, hr.Status, hr.CreatedAt); err != nil {
		return fmt.Errorf("insert help request: %w", err)
	}
	return nil
}

// ListHelpRequests returns help requests, newest first.
func (s *SQLiteStore) ListHelpRequests(ctx context.Context) ([]*store.HelpRequest, error) {
	query := `
		SELECT id, username, room, message, status, created_at
		FROM help_requests
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query help requests: %w", err)
	}
	defer rows.Close()

	var requests []*store.HelpRequest
	for rows.Next() {
		var hr store.HelpRequest
		if err := rows.Scan(&hr.ID, &hr.Username, &hr.Room, &hr.Message, &hr.Status, &hr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan help request: %w", err)
		}
		requests = append(requests, &hr)
	}

	return requests, rows.Err()
}

// UpdateHelpRequestStatus mutates the status of an existing request.
func (s *SQLiteStore) UpdateHelpRequestStatus(ctx context.Context, id string, status store.HelpRequestStatus) error {
	query := `UPDATE help_requests SET status = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update help request: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("help request %q: %w", id, store.ErrNotFound)
	}

	return nil
}
