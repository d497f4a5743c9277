package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vzdtic/replicated-chat/pkg/cluster"
	"github.com/vzdtic/replicated-chat/pkg/replication"
)

// PeerClient is the outbound side of replica-to-replica traffic. Connections
// are dialed lazily and cached per target; gRPC reconnects under the hood, so
// a cached connection survives peer restarts.
//
// PeerClient implements cluster.Transport and replication.PeerTransport.
type PeerClient struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn

	dialOpts []grpc.DialOption
}

// NewPeerClient creates an empty connection cache. Extra dial options are
// appended after the defaults; tests pass a bufconn dialer here.
func NewPeerClient(opts ...grpc.DialOption) *PeerClient {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}
	dialOpts = append(dialOpts, opts...)
	return &PeerClient{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: dialOpts,
	}
}

// getClient returns the cached stub for target, dialing on first use.
func (c *PeerClient) getClient(target string) (*ChatClient, error) {
	c.mu.RLock()
	conn, ok := c.conns[target]
	c.mu.RUnlock()
	if ok {
		return NewChatClient(conn), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[target]; ok {
		return NewChatClient(conn), nil
	}
	conn, err := grpc.Dial(target, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	c.conns[target] = conn
	return NewChatClient(conn), nil
}

// Close tears down every cached connection.
func (c *PeerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for target, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, target)
	}
	return firstErr
}

// Heartbeat delivers a leader heartbeat to target.
func (c *PeerClient) Heartbeat(ctx context.Context, target string, leaderID int, leaderAddress string) error {
	client, err := c.getClient(target)
	if err != nil {
		return err
	}
	resp, err := client.Heartbeat(ctx, &HeartbeatRequest{
		LeaderID:      leaderID,
		Timestamp:     time.Now().Unix(),
		LeaderAddress: leaderAddress,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("heartbeat rejected")
	}
	return nil
}

// Election asks target for a vote and reports whether it was granted.
func (c *PeerClient) Election(ctx context.Context, target string, candidateID int) (bool, error) {
	client, err := c.getClient(target)
	if err != nil {
		return false, err
	}
	resp, err := client.Election(ctx, &ElectionRequest{CandidateID: candidateID})
	if err != nil {
		return false, err
	}
	return resp.VoteGranted, nil
}

// GetLeaderInfo asks target who it believes the leader is.
func (c *PeerClient) GetLeaderInfo(ctx context.Context, target string) (*cluster.LeaderInfo, error) {
	client, err := c.getClient(target)
	if err != nil {
		return nil, err
	}
	resp, err := client.GetLeaderInfo(ctx, &GetLeaderInfoRequest{})
	if err != nil {
		return nil, err
	}
	return &cluster.LeaderInfo{
		Success:          resp.Success,
		LeaderAddress:    resp.LeaderAddress,
		Message:          resp.Message,
		ReplicaAddresses: resp.ReplicaAddresses,
	}, nil
}

// JoinCluster announces newServerAddress to target and returns the raw state
// snapshot the leader hands back.
func (c *PeerClient) JoinCluster(ctx context.Context, target, newServerAddress string) ([]byte, error) {
	client, err := c.getClient(target)
	if err != nil {
		return nil, err
	}
	resp, err := client.JoinCluster(ctx, &JoinClusterRequest{NewServerAddress: newServerAddress})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("join rejected by %s: %s", target, resp.Message)
	}
	return []byte(resp.State), nil
}

// ReplicateOperation pushes one replication record to target.
func (c *PeerClient) ReplicateOperation(ctx context.Context, target string, rec replication.Record) error {
	client, err := c.getClient(target)
	if err != nil {
		return err
	}
	resp, err := client.ReplicateOperation(ctx, &ReplicationRequest{
		OperationType: string(rec.OperationType),
		Data:          string(rec.Data),
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("replication rejected by %s: %s", target, resp.Message)
	}
	return nil
}
