// Package replication defines the operation records a leader fans out to its
// followers, the applier that turns a record into a local store mutation, and
// the best-effort asynchronous fan-out itself.
package replication

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vzdtic/replicated-chat/pkg/store"
)

// OpType tags a replicated operation. The string values are the wire
// contract; followers dispatch on them.
type OpType string

const (
	OpCreateAccount  OpType = "create_account"
	OpSendMessage    OpType = "send_message"
	OpDeleteMessages OpType = "delete_messages"
	OpDeleteAccount  OpType = "delete_account"
)

var ErrUnknownOperation = errors.New("unknown operation type")

// Record is a single committed leader write. Records carry no sequence
// number and are not durable; they are fire-and-apply.
type Record struct {
	OperationType OpType
	Data          json.RawMessage
}

// CreateAccountOp is the payload for create_account.
type CreateAccountOp struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SendMessageOp is the payload for send_message. The timestamp is assigned
// by the leader; message ids are not carried, each replica assigns its own.
type SendMessageOp struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// DeleteMessagesOp is the payload for delete_messages.
type DeleteMessagesOp struct {
	Username   string  `json:"username"`
	MessageIDs []int64 `json:"message_ids"`
}

// DeleteAccountOp is the payload for delete_account.
type DeleteAccountOp struct {
	Username string `json:"username"`
}

// NewRecord builds a record from an operation payload.
func NewRecord(op OpType, payload interface{}) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s payload: %w", op, err)
	}
	return Record{OperationType: op, Data: data}, nil
}

// Apply executes the store mutation a record describes. It is the single
// code path for both the leader's local apply and a follower receiving the
// replicated record.
//
// delete_messages keeps the recipient guard on followers as well, so a
// replica can never delete a message belonging to someone other than the
// requesting user even when local ids have drifted.
func Apply(st *store.Store, rec Record) error {
	switch rec.OperationType {
	case OpCreateAccount:
		var op CreateAccountOp
		if err := json.Unmarshal(rec.Data, &op); err != nil {
			return fmt.Errorf("bad create_account payload: %w", err)
		}
		return st.CreateAccount(op.Username, op.Password)

	case OpSendMessage:
		var op SendMessageOp
		if err := json.Unmarshal(rec.Data, &op); err != nil {
			return fmt.Errorf("bad send_message payload: %w", err)
		}
		_, err := st.InsertMessage(op.Sender, op.Recipient, op.Content, op.Timestamp)
		return err

	case OpDeleteMessages:
		var op DeleteMessagesOp
		if err := json.Unmarshal(rec.Data, &op); err != nil {
			return fmt.Errorf("bad delete_messages payload: %w", err)
		}
		if len(op.MessageIDs) == 1 && op.MessageIDs[0] == -1 {
			return st.DeleteAllMessagesFor(op.Username)
		}
		return st.DeleteMessages(op.Username, op.MessageIDs)

	case OpDeleteAccount:
		var op DeleteAccountOp
		if err := json.Unmarshal(rec.Data, &op); err != nil {
			return fmt.Errorf("bad delete_account payload: %w", err)
		}
		return st.DeleteAccount(op.Username)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, rec.OperationType)
	}
}
