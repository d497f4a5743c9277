package rpc

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vzdtic/replicated-chat/pkg/chat"
	"github.com/vzdtic/replicated-chat/pkg/cluster"
	"github.com/vzdtic/replicated-chat/pkg/replication"
	"github.com/vzdtic/replicated-chat/pkg/store"
)

const bufSize = 1 << 20

// testCluster runs real servers on in-memory listeners, one per address.
type testCluster struct {
	t         *testing.T
	listeners map[string]*bufconn.Listener
	stores    map[string]*store.Store
	fanouts   map[string]*replication.Fanout
	replicas  map[string]*cluster.Replica
}

func newTestCluster(t *testing.T) *testCluster {
	return &testCluster{
		t:         t,
		listeners: make(map[string]*bufconn.Listener),
		stores:    make(map[string]*store.Store),
		fanouts:   make(map[string]*replication.Fanout),
		replicas:  make(map[string]*cluster.Replica),
	}
}

// dialerOpt routes dials by address to the matching bufconn listener.
func (tc *testCluster) dialerOpt() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		return tc.listeners[addr].DialContext(ctx)
	})
}

// addNode starts a full replica node (store, cluster view, chat service,
// gRPC server) on a bufconn listener. Background cluster loops stay off;
// these tests drive the RPCs directly.
func (tc *testCluster) addNode(id int, addr string, leader bool, peers []string) {
	tc.t.Helper()

	lis := bufconn.Listen(bufSize)
	tc.listeners[addr] = lis

	st, err := store.Open(filepath.Join(tc.t.TempDir(), "chat.db"))
	require.NoError(tc.t, err)
	tc.stores[addr] = st

	logger := zaptest.NewLogger(tc.t)
	peerClient := NewPeerClient(tc.dialerOpt())

	replica := cluster.New(cluster.Config{
		ServerID:          id,
		Address:           addr,
		Peers:             peers,
		InitialLeader:     leader,
		HeartbeatInterval: time.Second,
		LeaseTimeout:      3 * time.Second,
	}, peerClient, logger)
	tc.replicas[addr] = replica

	fanout := replication.NewFanout(peerClient, addr, logger)
	tc.fanouts[addr] = fanout

	svc := chat.NewService(st, replica, fanout, logger)
	server := NewServer(svc, replica, st, logger)
	go server.Serve(lis)

	tc.t.Cleanup(func() {
		server.Stop()
		fanout.Wait()
		peerClient.Close()
		st.Close()
	})
}

func (tc *testCluster) client(addr string) *ChatClient {
	tc.t.Helper()
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
		tc.dialerOpt())
	require.NoError(tc.t, err)
	tc.t.Cleanup(func() { conn.Close() })
	return NewChatClient(conn)
}

func TestLeaderServesChatOperations(t *testing.T) {
	tc := newTestCluster(t)
	tc.addNode(1, "leader:50051", true, nil)
	c := tc.client("leader:50051")
	ctx := context.Background()

	created, err := c.CreateAccount(ctx, &CreateAccountRequest{Username: "alice", Password: "digest"})
	require.NoError(t, err)
	assert.True(t, created.Success)
	assert.Equal(t, "Account 'alice' created successfully", created.Message)

	dup, err := c.CreateAccount(ctx, &CreateAccountRequest{Username: "alice", Password: "digest"})
	require.NoError(t, err)
	assert.False(t, dup.Success)
	assert.Equal(t, "Username already taken", dup.Message)

	login, err := c.Login(ctx, &LoginRequest{Username: "alice", Password: "digest"})
	require.NoError(t, err)
	assert.True(t, login.Success)
	assert.Equal(t, "User 'alice' logged in successfully", login.Message)
	assert.Equal(t, int32(0), login.UnreadCount)

	badLogin, err := c.Login(ctx, &LoginRequest{Username: "alice", Password: "nope"})
	require.NoError(t, err)
	assert.False(t, badLogin.Success)
	assert.Equal(t, "Incorrect password", badLogin.Message)

	_, err = c.CreateAccount(ctx, &CreateAccountRequest{Username: "bob", Password: "digest"})
	require.NoError(t, err)

	sent, err := c.SendMessage(ctx, &SendMessageRequest{Sender: "alice", To: "bob", Content: "hi"})
	require.NoError(t, err)
	assert.True(t, sent.Success)
	assert.Equal(t, "Message sent successfully", sent.Message)

	missing, err := c.SendMessage(ctx, &SendMessageRequest{Sender: "alice", To: "ghost", Content: "hi"})
	require.NoError(t, err)
	assert.False(t, missing.Success)
	assert.Equal(t, "No such recipient", missing.Message)

	unread, err := c.ReadNewMessages(ctx, &ReadNewMessagesRequest{Username: "bob", Count: 0})
	require.NoError(t, err)
	assert.True(t, unread.Success)
	require.Len(t, unread.Messages, 1)
	assert.Contains(t, unread.Messages[0], "From: alice - hi")

	listed, err := c.ListMessages(ctx, &ListMessagesRequest{Username: "bob"})
	require.NoError(t, err)
	assert.True(t, listed.Success)
	assert.Len(t, listed.Messages, 1)

	accounts, err := c.ListAccounts(ctx, &ListAccountsRequest{Username: "alice", Pattern: ""})
	require.NoError(t, err)
	assert.True(t, accounts.Success)
	assert.Equal(t, []string{"alice", "bob"}, accounts.Accounts)

	// The username field is carried on the wire but listing does not
	// require it; filtering is by pattern only.
	noUser, err := c.ListAccounts(ctx, &ListAccountsRequest{Username: "", Pattern: "bo"})
	require.NoError(t, err)
	assert.True(t, noUser.Success)
	assert.Equal(t, []string{"bob"}, noUser.Accounts)

	deleted, err := c.DeleteAccount(ctx, &DeleteAccountRequest{Username: "bob"})
	require.NoError(t, err)
	assert.True(t, deleted.Success)
	assert.Equal(t, "Account 'bob' deleted successfully", deleted.Message)
}

func TestFollowerRejectsWrites(t *testing.T) {
	tc := newTestCluster(t)
	tc.addNode(1, "follower:50051", false, nil)
	c := tc.client("follower:50051")
	ctx := context.Background()

	resp, err := c.CreateAccount(ctx, &CreateAccountRequest{Username: "alice", Password: "digest"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Not leader. Please contact the leader.", resp.Message)
}

func TestFanoutReachesFollower(t *testing.T) {
	tc := newTestCluster(t)
	tc.addNode(2, "leader:50051", true, []string{"follower:50052"})
	tc.addNode(1, "follower:50052", false, nil)

	leader := tc.client("leader:50051")
	follower := tc.client("follower:50052")
	ctx := context.Background()

	_, err := leader.CreateAccount(ctx, &CreateAccountRequest{Username: "bob", Password: "digest"})
	require.NoError(t, err)
	_, err = leader.SendMessage(ctx, &SendMessageRequest{Sender: "alice", To: "bob", Content: "replicated"})
	require.NoError(t, err)

	tc.fanouts["leader:50051"].Wait()

	login, err := follower.Login(ctx, &LoginRequest{Username: "bob", Password: "digest"})
	require.NoError(t, err)
	assert.True(t, login.Success)
	assert.Equal(t, int32(1), login.UnreadCount)

	// Reads are served locally by the follower.
	unread, err := follower.ReadNewMessages(ctx, &ReadNewMessagesRequest{Username: "bob"})
	require.NoError(t, err)
	require.Len(t, unread.Messages, 1)
	assert.Contains(t, unread.Messages[0], "replicated")
}

func TestElectionRPC(t *testing.T) {
	tc := newTestCluster(t)
	tc.addNode(2, "node2:50051", false, nil)
	c := tc.client("node2:50051")
	ctx := context.Background()

	granted, err := c.Election(ctx, &ElectionRequest{CandidateID: 1})
	require.NoError(t, err)
	assert.True(t, granted.VoteGranted, "id 2 grants a lower candidate, vetoing it by granting")

	rejected, err := c.Election(ctx, &ElectionRequest{CandidateID: 3})
	require.NoError(t, err)
	assert.False(t, rejected.VoteGranted, "id 2 rejects a higher candidate")
}

func TestHeartbeatAndLeaderInfoRPC(t *testing.T) {
	tc := newTestCluster(t)
	tc.addNode(1, "follower:50051", false, nil)
	c := tc.client("follower:50051")
	ctx := context.Background()

	before, err := c.GetLeaderInfo(ctx, &GetLeaderInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Unknown", before.LeaderAddress)
	assert.Equal(t, "Follower reporting leader info", before.Message)

	hb, err := c.Heartbeat(ctx, &HeartbeatRequest{
		LeaderID: 3, Timestamp: time.Now().Unix(), LeaderAddress: "leader:50053",
	})
	require.NoError(t, err)
	assert.True(t, hb.Success)

	after, err := c.GetLeaderInfo(ctx, &GetLeaderInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, "leader:50053", after.LeaderAddress)
}

func TestReplicateOperationRPC(t *testing.T) {
	tc := newTestCluster(t)
	tc.addNode(1, "follower:50051", false, nil)
	c := tc.client("follower:50051")
	ctx := context.Background()

	payload, err := json.Marshal(replication.CreateAccountOp{Username: "alice", Password: "digest"})
	require.NoError(t, err)
	resp, err := c.ReplicateOperation(ctx, &ReplicationRequest{
		OperationType: string(replication.OpCreateAccount),
		Data:          string(payload),
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	ok, err := tc.stores["follower:50051"].HasAccount("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	bad, err := c.ReplicateOperation(ctx, &ReplicationRequest{
		OperationType: "truncate_everything",
		Data:          "{}",
	})
	require.NoError(t, err)
	assert.False(t, bad.Success)
}

func TestJoinClusterRPC(t *testing.T) {
	tc := newTestCluster(t)
	tc.addNode(3, "leader:50051", true, nil)
	c := tc.client("leader:50051")
	ctx := context.Background()

	_, err := c.CreateAccount(ctx, &CreateAccountRequest{Username: "alice", Password: "digest"})
	require.NoError(t, err)

	resp, err := c.JoinCluster(ctx, &JoinClusterRequest{NewServerAddress: "joiner:50054"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "State transfer complete", resp.Message)

	var snap store.Snapshot
	require.NoError(t, json.Unmarshal([]byte(resp.State), &snap))
	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, "alice", snap.Accounts[0].Username)

	assert.Contains(t, tc.replicas["leader:50051"].Peers(), "joiner:50054")
}
