// Package chat implements the eight client-facing operations over the local
// store. Writes are leader-only: they apply locally through the replication
// applier and fan out to peers. Reads are served by whichever replica the
// client reached.
package chat

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vzdtic/replicated-chat/pkg/replication"
	"github.com/vzdtic/replicated-chat/pkg/store"
)

// Error strings below are part of the wire contract; the client runtime
// matches on the not-leader message to trigger rediscovery.
var (
	ErrNotLeader       = errors.New("Not leader. Please contact the leader.")
	ErrMissingFields   = errors.New("Missing fields")
	ErrMissingUser     = errors.New("Username missing")
	ErrMissingUserPass = errors.New("Username or password missing")
	ErrNoSuchUser      = errors.New("No such user")
	ErrWrongPassword   = errors.New("Incorrect password")
	ErrUsernameTaken   = errors.New("Username already taken")
	ErrNoSuchRecipient = errors.New("No such recipient")
)

// timestampLayout formats leader-assigned message timestamps as MM/DD HH:MM.
const timestampLayout = "01/02 15:04"

// View exposes the replica state the chat layer needs: whether writes may
// originate here and who to replicate to.
type View interface {
	IsLeader() bool
	Peers() []string
}

// Service implements the chat operations for one replica.
type Service struct {
	store  *store.Store
	view   View
	fanout *replication.Fanout
	logger *zap.Logger

	now func() time.Time // injectable for tests
}

// NewService wires the chat layer over the local store.
func NewService(st *store.Store, view View, fanout *replication.Fanout, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		view:   view,
		fanout: fanout,
		logger: logger,
		now:    time.Now,
	}
}

// applyAndReplicate runs the write locally through the shared applier, then
// fans the record out to every peer. Fan-out failures never surface here.
func (s *Service) applyAndReplicate(op replication.OpType, payload interface{}) error {
	rec, err := replication.NewRecord(op, payload)
	if err != nil {
		return err
	}
	if err := replication.Apply(s.store, rec); err != nil {
		return err
	}
	s.fanout.Replicate(s.view.Peers(), rec)
	return nil
}

// CreateAccount registers a new account. Leader only.
func (s *Service) CreateAccount(username, password string) (string, error) {
	if !s.view.IsLeader() {
		return "", ErrNotLeader
	}
	if username == "" || password == "" {
		return "", ErrMissingUserPass
	}
	err := s.applyAndReplicate(replication.OpCreateAccount, replication.CreateAccountOp{
		Username: username,
		Password: password,
	})
	if errors.Is(err, store.ErrUsernameTaken) {
		return "", ErrUsernameTaken
	}
	if err != nil {
		return "", err
	}
	s.logger.Info("account created", zap.String("username", username))
	return fmt.Sprintf("Account '%s' created successfully", username), nil
}

// Login verifies credentials and returns the unread count on this replica.
// Served by any replica.
func (s *Service) Login(username, password string) (int, string, error) {
	if username == "" || password == "" {
		return 0, "", ErrMissingUserPass
	}
	stored, err := s.store.GetPassword(username)
	if errors.Is(err, store.ErrNoSuchUser) {
		return 0, "", ErrNoSuchUser
	}
	if err != nil {
		return 0, "", err
	}
	if stored != password {
		return 0, "", ErrWrongPassword
	}
	unread, err := s.store.UnreadCount(username)
	if err != nil {
		return 0, "", err
	}
	s.logger.Info("user logged in", zap.String("username", username))
	return unread, fmt.Sprintf("User '%s' logged in successfully", username), nil
}

// ListAccounts returns all usernames, substring-filtered when pattern is
// non-empty. Served by any replica.
func (s *Service) ListAccounts(pattern string) ([]string, error) {
	return s.store.ListAccounts(pattern)
}

// SendMessage stores a message for the recipient with a leader-assigned
// timestamp. Leader only. The recipient must exist; content may be empty.
func (s *Service) SendMessage(sender, to, content string) (string, error) {
	if !s.view.IsLeader() {
		return "", ErrNotLeader
	}
	if sender == "" || to == "" {
		return "", ErrMissingFields
	}
	exists, err := s.store.HasAccount(to)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrNoSuchRecipient
	}
	timestamp := s.now().Format(timestampLayout)
	err = s.applyAndReplicate(replication.OpSendMessage, replication.SendMessageOp{
		Sender:    sender,
		Recipient: to,
		Content:   content,
		Timestamp: timestamp,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("message sent", zap.String("sender", sender), zap.String("recipient", to))
	return "Message sent successfully", nil
}

// ReadNewMessages returns up to count unread messages (all of them when
// count <= 0 or count exceeds the backlog), oldest first, and marks the
// returned ones read. The read flag is a per-replica view and is not
// replicated.
func (s *Service) ReadNewMessages(username string, count int) ([]string, error) {
	if username == "" {
		return nil, ErrMissingUser
	}
	unread, err := s.store.SelectUnread(username)
	if err != nil {
		return nil, err
	}
	if count > 0 && count < len(unread) {
		unread = unread[:count]
	}
	ids := make([]int64, len(unread))
	for i, m := range unread {
		ids[i] = m.ID
	}
	if err := s.store.MarkRead(ids); err != nil {
		return nil, err
	}
	s.logger.Info("read new messages", zap.String("username", username), zap.Int("count", len(unread)))
	return formatMessages(unread), nil
}

// ListMessages returns every already-read message for username, formatted
// for display. Served by any replica.
func (s *Service) ListMessages(username string) ([]string, error) {
	if username == "" {
		return nil, ErrMissingUser
	}
	msgs, err := s.store.SelectRead(username)
	if err != nil {
		return nil, err
	}
	return formatMessages(msgs), nil
}

// DeleteMessages deletes the given message ids for username. Leader only.
// The single id -1 deletes every message for the user.
func (s *Service) DeleteMessages(username string, ids []int64) (string, error) {
	if !s.view.IsLeader() {
		return "", ErrNotLeader
	}
	if username == "" || len(ids) == 0 {
		return "", ErrMissingFields
	}
	err := s.applyAndReplicate(replication.OpDeleteMessages, replication.DeleteMessagesOp{
		Username:   username,
		MessageIDs: ids,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("messages deleted", zap.String("username", username), zap.Int("count", len(ids)))
	return "Messages deleted successfully", nil
}

// DeleteAccount removes the account and every message addressed to it.
// Leader only.
func (s *Service) DeleteAccount(username string) (string, error) {
	if !s.view.IsLeader() {
		return "", ErrNotLeader
	}
	if username == "" {
		return "", ErrMissingUser
	}
	err := s.applyAndReplicate(replication.OpDeleteAccount, replication.DeleteAccountOp{
		Username: username,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("account deleted", zap.String("username", username))
	return fmt.Sprintf("Account '%s' deleted successfully", username), nil
}

func formatMessages(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("%s - From: %s - %s", m.Timestamp, m.Sender, m.Content)
	}
	return out
}
