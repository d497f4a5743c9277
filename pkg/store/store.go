// Package store implements the per-replica persistent chat store: two sqlite
// tables, accounts and messages. The store is single-writer; every access is
// serialized behind one mutex and each logical write runs in a transaction.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrNoSuchUser    = errors.New("no such user")
)

// Account is one row of the accounts table. Password is the opaque
// credential digest supplied by the caller.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Message is one row of the messages table. Ids are assigned locally by each
// replica and need not agree across replicas. Read is 0 or 1, matching the
// column and the snapshot wire format.
type Message struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Read      int    `json:"read"`
	Timestamp string `json:"timestamp"`
}

// Snapshot is the full serialized store contents, produced by the leader at
// join time and consumed wholesale by a joiner.
type Snapshot struct {
	Accounts []Account `json:"accounts"`
	Messages []Message `json:"messages"`
}

// Store wraps the sqlite database for one replica.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// sqlite allows a single writer; funnel everything through one
	// connection so database/sql cannot race two of them.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT,
			recipient TEXT,
			content TEXT,
			read INTEGER DEFAULT 0,
			timestamp TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// CreateAccount inserts a new account. Returns ErrUsernameTaken if the
// username already exists.
func (s *Store) CreateAccount(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT INTO accounts (username, password) VALUES (?, ?)", username, password)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// GetPassword returns the stored credential digest for username.
func (s *Store) GetPassword(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var password string
	err := s.db.QueryRow("SELECT password FROM accounts WHERE username = ?", username).Scan(&password)
	if err == sql.ErrNoRows {
		return "", ErrNoSuchUser
	}
	if err != nil {
		return "", fmt.Errorf("failed to query account: %w", err)
	}
	return password, nil
}

// HasAccount reports whether username exists.
func (s *Store) HasAccount(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query account: %w", err)
	}
	return n > 0, nil
}

// ListAccounts returns all usernames, or those containing pattern as a
// substring when pattern is non-empty.
func (s *Store) ListAccounts(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	var err error
	if pattern != "" {
		rows, err = s.db.Query("SELECT username FROM accounts WHERE username LIKE ? ORDER BY username", "%"+pattern+"%")
	} else {
		rows, err = s.db.Query("SELECT username FROM accounts ORDER BY username")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		usernames = append(usernames, u)
	}
	return usernames, rows.Err()
}

// DeleteAccount removes the account and, in the same transaction, every
// message whose recipient is that username.
func (s *Store) DeleteAccount(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM accounts WHERE username = ?", username); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE recipient = ?", username); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit()
}

// InsertMessage stores a new unread message and returns its local id.
func (s *Store) InsertMessage(sender, recipient, content, timestamp string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO messages (sender, recipient, content, read, timestamp) VALUES (?, ?, ?, 0, ?)",
		sender, recipient, content, timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// UnreadCount returns the number of unread messages for username.
func (s *Store) UnreadCount(username string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE recipient = ? AND read = 0", username).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return n, nil
}

// SelectUnread returns the unread messages for username, oldest id first.
func (s *Store) SelectUnread(username string) ([]Message, error) {
	return s.selectByRead(username, 0)
}

// SelectRead returns the already-read messages for username, oldest id first.
func (s *Store) SelectRead(username string) ([]Message, error) {
	return s.selectByRead(username, 1)
}

func (s *Store) selectByRead(username string, read int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id, sender, recipient, content, read, timestamp FROM messages WHERE recipient = ? AND read = ? ORDER BY id",
		username, read)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.Read, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead flags the given message ids as read, in one transaction.
func (s *Store) MarkRead(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec("UPDATE messages SET read = 1 WHERE id = ?", id); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to mark message %d read: %w", id, err)
		}
	}
	return tx.Commit()
}

// DeleteMessages deletes the given message ids, scoped to messages whose
// recipient is username. Ids belonging to other recipients are ignored.
func (s *Store) DeleteMessages(username string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM messages WHERE id = ? AND recipient = ?", id, username); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete message %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// DeleteAllMessagesFor deletes every message whose recipient is username.
func (s *Store) DeleteAllMessagesFor(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM messages WHERE recipient = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// SnapshotAll serializes the entire store contents.
func (s *Store) SnapshotAll() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Accounts: []Account{},
		Messages: []Message{},
	}

	rows, err := s.db.Query("SELECT username, password FROM accounts ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot accounts: %w", err)
	}
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Username, &a.Password); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.Query("SELECT id, sender, recipient, content, read, timestamp FROM messages ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot messages: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	snap.Messages = append(snap.Messages, msgs...)
	return snap, nil
}

// ReplaceAll clears both tables and inserts the snapshot contents, all under
// one transaction. Message ids are renumbered locally.
func (s *Store) ReplaceAll(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM accounts"); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear accounts: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	for _, a := range snap.Accounts {
		if _, err := tx.Exec("INSERT INTO accounts (username, password) VALUES (?, ?)", a.Username, a.Password); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to restore account %q: %w", a.Username, err)
		}
	}
	for _, m := range snap.Messages {
		if _, err := tx.Exec(
			"INSERT INTO messages (sender, recipient, content, read, timestamp) VALUES (?, ?, ?, ?, ?)",
			m.Sender, m.Recipient, m.Content, m.Read, m.Timestamp); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to restore message: %w", err)
		}
	}
	return tx.Commit()
}
