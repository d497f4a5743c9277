package replication

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzdtic/replicated-chat/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mustRecord(t *testing.T, op OpType, payload interface{}) Record {
	t.Helper()
	rec, err := NewRecord(op, payload)
	require.NoError(t, err)
	return rec
}

func TestApplyCreateAccount(t *testing.T) {
	st := openTestStore(t)

	rec := mustRecord(t, OpCreateAccount, CreateAccountOp{Username: "alice", Password: "digest"})
	require.NoError(t, Apply(st, rec))

	pw, err := st.GetPassword("alice")
	require.NoError(t, err)
	assert.Equal(t, "digest", pw)

	// Re-applying the same record on a replica that already has the account
	// surfaces the store error; the leader logs and drops it.
	assert.ErrorIs(t, Apply(st, rec), store.ErrUsernameTaken)
}

func TestApplySendMessage(t *testing.T) {
	st := openTestStore(t)

	rec := mustRecord(t, OpSendMessage, SendMessageOp{
		Sender:    "alice",
		Recipient: "bob",
		Content:   "hello",
		Timestamp: "01/02 10:00",
	})
	require.NoError(t, Apply(st, rec))

	unread, err := st.SelectUnread("bob")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "hello", unread[0].Content)
	assert.Equal(t, "01/02 10:00", unread[0].Timestamp)
}

func TestApplyDeleteMessages(t *testing.T) {
	st := openTestStore(t)
	id1, err := st.InsertMessage("alice", "bob", "one", "01/02 10:00")
	require.NoError(t, err)
	_, err = st.InsertMessage("alice", "bob", "two", "01/02 10:01")
	require.NoError(t, err)

	rec := mustRecord(t, OpDeleteMessages, DeleteMessagesOp{Username: "bob", MessageIDs: []int64{id1}})
	require.NoError(t, Apply(st, rec))

	n, err := st.UnreadCount("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyDeleteMessagesAllSentinel(t *testing.T) {
	st := openTestStore(t)
	_, err := st.InsertMessage("alice", "bob", "one", "01/02 10:00")
	require.NoError(t, err)
	_, err = st.InsertMessage("alice", "bob", "two", "01/02 10:01")
	require.NoError(t, err)

	rec := mustRecord(t, OpDeleteMessages, DeleteMessagesOp{Username: "bob", MessageIDs: []int64{-1}})
	require.NoError(t, Apply(st, rec))

	n, err := st.UnreadCount("bob")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestApplyDeleteAccount(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateAccount("bob", "x"))
	_, err := st.InsertMessage("alice", "bob", "hi", "01/02 10:00")
	require.NoError(t, err)

	rec := mustRecord(t, OpDeleteAccount, DeleteAccountOp{Username: "bob"})
	require.NoError(t, Apply(st, rec))

	ok, err := st.HasAccount("bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyUnknownOperation(t *testing.T) {
	st := openTestStore(t)
	err := Apply(st, Record{OperationType: "truncate_everything", Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestApplyBadPayload(t *testing.T) {
	st := openTestStore(t)
	err := Apply(st, Record{OperationType: OpCreateAccount, Data: json.RawMessage(`{"username":`)})
	assert.Error(t, err)
}
