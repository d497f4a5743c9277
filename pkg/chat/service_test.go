package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vzdtic/replicated-chat/pkg/replication"
	"github.com/vzdtic/replicated-chat/pkg/store"
)

type fakeView struct {
	leader bool
	peers  []string
}

func (v *fakeView) IsLeader() bool  { return v.leader }
func (v *fakeView) Peers() []string { return v.peers }

// captureTransport collects records so tests can assert what was fanned out.
type captureTransport struct {
	mu   sync.Mutex
	recs []replication.Record
}

func (ct *captureTransport) ReplicateOperation(ctx context.Context, target string, rec replication.Record) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.recs = append(ct.recs, rec)
	return nil
}

func (ct *captureTransport) records() []replication.Record {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return append([]replication.Record(nil), ct.recs...)
}

type fixture struct {
	svc       *Service
	store     *store.Store
	view      *fakeView
	transport *captureTransport
	fanout    *replication.Fanout
}

func newFixture(t *testing.T, leader bool) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	view := &fakeView{leader: leader, peers: []string{"peer:50052"}}
	transport := &captureTransport{}
	logger := zaptest.NewLogger(t)
	fanout := replication.NewFanout(transport, "self:50051", logger)

	svc := NewService(st, view, fanout, logger)
	svc.now = func() time.Time {
		return time.Date(2024, 3, 14, 15, 9, 0, 0, time.UTC)
	}
	return &fixture{svc: svc, store: st, view: view, transport: transport, fanout: fanout}
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.svc.CreateAccount("alice", "digest")
	require.NoError(t, err)
	assert.Equal(t, "Account 'alice' created successfully", msg)

	f.fanout.Wait()
	recs := f.transport.records()
	require.Len(t, recs, 1)
	assert.Equal(t, replication.OpCreateAccount, recs[0].OperationType)
}

func TestCreateAccountValidation(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.CreateAccount("", "digest")
	assert.ErrorIs(t, err, ErrMissingUserPass)

	_, err = f.svc.CreateAccount("alice", "")
	assert.ErrorIs(t, err, ErrMissingUserPass)

	_, err = f.svc.CreateAccount("alice", "digest")
	require.NoError(t, err)
	_, err = f.svc.CreateAccount("alice", "digest")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestWritesRejectedOnFollower(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.CreateAccount("alice", "digest")
	assert.ErrorIs(t, err, ErrNotLeader)

	_, err = f.svc.SendMessage("alice", "bob", "hi")
	assert.ErrorIs(t, err, ErrNotLeader)

	_, err = f.svc.DeleteMessages("alice", []int64{1})
	assert.ErrorIs(t, err, ErrNotLeader)

	_, err = f.svc.DeleteAccount("alice")
	assert.ErrorIs(t, err, ErrNotLeader)

	// Nothing may reach the peers.
	f.fanout.Wait()
	assert.Empty(t, f.transport.records())
}

func TestLogin(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateAccount("alice", "digest")
	require.NoError(t, err)

	unread, msg, err := f.svc.Login("alice", "digest")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
	assert.Equal(t, "User 'alice' logged in successfully", msg)

	_, _, err = f.svc.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, _, err = f.svc.Login("ghost", "digest")
	assert.ErrorIs(t, err, ErrNoSuchUser)

	_, _, err = f.svc.Login("", "digest")
	assert.ErrorIs(t, err, ErrMissingUserPass)
}

func TestSendMessageAndRead(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateAccount("alice", "x")
	require.NoError(t, err)
	_, err = f.svc.CreateAccount("bob", "x")
	require.NoError(t, err)

	msg, err := f.svc.SendMessage("alice", "bob", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "Message sent successfully", msg)

	unread, _, err := f.svc.Login("bob", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	msgs, err := f.svc.ReadNewMessages("bob", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "03/14 15:09 - From: alice - hello there", msgs[0])

	// Reading marks them; a second read returns nothing new.
	msgs, err = f.svc.ReadNewMessages("bob", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	read, err := f.svc.ListMessages("bob")
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, "03/14 15:09 - From: alice - hello there", read[0])
}

func TestSendMessageToMissingRecipient(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateAccount("alice", "x")
	require.NoError(t, err)

	_, err = f.svc.SendMessage("alice", "ghost", "anyone there")
	assert.ErrorIs(t, err, ErrNoSuchRecipient)

	_, err = f.svc.SendMessage("", "alice", "hi")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestSendMessageEmptyContent(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateAccount("bob", "x")
	require.NoError(t, err)

	_, err = f.svc.SendMessage("alice", "bob", "")
	require.NoError(t, err)

	msgs, err := f.svc.ReadNewMessages("bob", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "03/14 15:09 - From: alice - ", msgs[0])
}

func TestReadNewMessagesCountBoundaries(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateAccount("bob", "x")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage("alice", "bob", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	// count larger than the backlog returns everything.
	msgs, err := f.svc.ReadNewMessages("bob", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	for i := 0; i < 2; i++ {
		_, err := f.svc.SendMessage("alice", "bob", fmt.Sprintf("more %d", i))
		require.NoError(t, err)
	}

	// A positive count below the backlog returns the oldest ones only.
	msgs, err = f.svc.ReadNewMessages("bob", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "more 0")

	msgs, err = f.svc.ReadNewMessages("bob", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDeleteMessages(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateAccount("bob", "x")
	require.NoError(t, err)
	_, err = f.svc.SendMessage("alice", "bob", "one")
	require.NoError(t, err)
	_, err = f.svc.SendMessage("alice", "bob", "two")
	require.NoError(t, err)

	_, err = f.svc.DeleteMessages("bob", nil)
	assert.ErrorIs(t, err, ErrMissingFields)

	msg, err := f.svc.DeleteMessages("bob", []int64{-1})
	require.NoError(t, err)
	assert.Equal(t, "Messages deleted successfully", msg)

	msgs, err := f.svc.ReadNewMessages("bob", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDeleteAccountThenRecreate(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateAccount("alice", "old-digest")
	require.NoError(t, err)
	_, err = f.svc.SendMessage("alice", "alice", "note to self")
	require.NoError(t, err)

	msg, err := f.svc.DeleteAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, "Account 'alice' deleted successfully", msg)

	// The name is free again and the old mailbox is gone.
	_, err = f.svc.CreateAccount("alice", "new-digest")
	require.NoError(t, err)

	unread, _, err := f.svc.Login("alice", "new-digest")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
}

func TestListAccounts(t *testing.T) {
	f := newFixture(t, true)
	for _, u := range []string{"alice", "bob", "malice"} {
		_, err := f.svc.CreateAccount(u, "x")
		require.NoError(t, err)
	}

	all, err := f.svc.ListAccounts("")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "malice"}, all)

	some, err := f.svc.ListAccounts("lic")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "malice"}, some)
}
