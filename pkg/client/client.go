// Package client is the retrying client runtime. It hides leader churn from
// callers: every request goes to the current leader guess, and on a
// connection failure or a not-leader answer the runtime rediscovers the
// leader from its fallback replica set and retries. A background probe keeps
// the leader guess and the fallback set fresh between requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vzdtic/replicated-chat/pkg/config"
	"github.com/vzdtic/replicated-chat/pkg/rpc"
)

// notLeaderMessage is the exact text a follower returns for a write; seeing
// it is the signal to rediscover the leader.
const notLeaderMessage = "Not leader. Please contact the leader."

const (
	maxAttempts  = 3
	probeTimeout = 1 * time.Second
)

var errNotLeader = errors.New("contacted replica is not the leader")

// Runtime is a chat client bound to one cluster. Safe for concurrent use.
type Runtime struct {
	cfg    *config.Client
	logger *zap.Logger

	mu       sync.RWMutex
	leader   string
	fallback []string
	conns    map[string]*grpc.ClientConn

	dialOpts []grpc.DialOption

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runtime pointed at the configured connect address. Extra dial
// options are appended after the defaults; tests pass a bufconn dialer here.
func New(cfg *config.Client, logger *zap.Logger, opts ...grpc.DialOption) *Runtime {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec{})),
	}
	dialOpts = append(dialOpts, opts...)

	r := &Runtime{
		cfg:      cfg,
		logger:   logger.With(zap.String("session_id", uuid.NewString())),
		leader:   cfg.ConnectAddress(),
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: dialOpts,
	}
	r.mergeFallback(append([]string{cfg.ConnectAddress()}, cfg.ReplicaAddresses...))
	return r
}

// Start launches the background leader probe.
func (r *Runtime) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.probeLoop()
}

// Stop halts the probe and closes every cached connection.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for target, conn := range r.conns {
		conn.Close()
		delete(r.conns, target)
	}
}

// Leader returns the current leader guess.
func (r *Runtime) Leader() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leader
}

// Fallback returns a copy of the known replica addresses.
func (r *Runtime) Fallback() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.fallback))
	copy(out, r.fallback)
	return out
}

// mergeFallback unions addrs into the fallback set. Addresses are only ever
// added; a stale entry costs one failed probe, a dropped one costs reach.
func (r *Runtime) mergeFallback(addrs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		known := false
		for _, f := range r.fallback {
			if f == addr {
				known = true
				break
			}
		}
		if !known {
			r.fallback = append(r.fallback, addr)
		}
	}
}

func (r *Runtime) setLeader(addr string) {
	r.mu.Lock()
	changed := r.leader != addr
	r.leader = addr
	r.mu.Unlock()
	if changed {
		r.logger.Info("leader changed", zap.String("leader", addr))
	}
}

// getClient returns the cached stub for target, dialing on first use.
func (r *Runtime) getClient(target string) (*rpc.ChatClient, error) {
	r.mu.RLock()
	conn, ok := r.conns[target]
	r.mu.RUnlock()
	if ok {
		return rpc.NewChatClient(conn), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[target]; ok {
		return rpc.NewChatClient(conn), nil
	}
	conn, err := grpc.Dial(target, r.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	r.conns[target] = conn
	return rpc.NewChatClient(conn), nil
}

// call runs one RPC against the leader guess with up to maxAttempts tries.
// A transport failure or a not-leader answer triggers rediscovery and a
// retry after the configured delay; any other error is returned as is.
func call[Resp any](r *Runtime, ctx context.Context, do func(ctx context.Context, c *rpc.ChatClient) (*Resp, error), notLeader func(*Resp) bool) (*Resp, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			r.rediscoverLeader(ctx)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.RetryDelay()):
			}
		}

		client, err := r.getClient(r.Leader())
		if err != nil {
			lastErr = err
			continue
		}
		rpcCtx, cancel := context.WithTimeout(ctx, r.cfg.RPCTimeout())
		resp, err := do(rpcCtx, client)
		cancel()
		switch {
		case err == nil && (notLeader == nil || !notLeader(resp)):
			return resp, nil
		case err == nil:
			r.logger.Info("replica is not the leader, rediscovering",
				zap.String("replica", r.Leader()))
			lastErr = errNotLeader
		case status.Code(err) == codes.Unavailable:
			r.logger.Warn("leader unreachable, rediscovering",
				zap.String("replica", r.Leader()), zap.Error(err))
			lastErr = err
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// rediscoverLeader scatters GetLeaderInfo over the fallback set. The first
// response naming a valid leader wins; every response contributes its replica
// addresses to the fallback set regardless.
func (r *Runtime) rediscoverLeader(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OverallLeaderLookupTimeout())
	defer cancel()

	candidates := r.Fallback()
	results := make(chan string, len(candidates))
	for _, addr := range candidates {
		go func(addr string) {
			probeCtx, probeCancel := context.WithTimeout(ctx, r.cfg.FallbackTimeout())
			defer probeCancel()
			client, err := r.getClient(addr)
			if err != nil {
				return
			}
			resp, err := client.GetLeaderInfo(probeCtx, &rpc.GetLeaderInfoRequest{})
			if err != nil {
				return
			}
			r.mergeFallback(resp.ReplicaAddresses)
			if resp.Success && resp.LeaderAddress != "" && resp.LeaderAddress != "Unknown" {
				select {
				case results <- resp.LeaderAddress:
				default:
				}
			}
		}(addr)
	}

	select {
	case leader := <-results:
		r.mergeFallback([]string{leader})
		r.setLeader(leader)
	case <-ctx.Done():
		r.logger.Warn("leader rediscovery failed", zap.Int("candidates", len(candidates)))
	}
}

// probeLoop pings the leader guess every heartbeat interval and rediscovers
// as soon as it stops answering or defers to someone else.
func (r *Runtime) probeLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.probeLeader()
		}
	}
}

func (r *Runtime) probeLeader() {
	client, err := r.getClient(r.Leader())
	if err != nil {
		r.rediscoverLeader(r.ctx)
		return
	}
	ctx, cancel := context.WithTimeout(r.ctx, probeTimeout)
	resp, err := client.GetLeaderInfo(ctx, &rpc.GetLeaderInfoRequest{})
	cancel()
	if err != nil {
		r.rediscoverLeader(r.ctx)
		return
	}
	r.mergeFallback(resp.ReplicaAddresses)
	if resp.LeaderAddress != "" && resp.LeaderAddress != "Unknown" {
		r.setLeader(resp.LeaderAddress)
	}
}

// CreateAccount registers a new account on the leader.
func (r *Runtime) CreateAccount(ctx context.Context, username, password string) (*rpc.CreateAccountResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.CreateAccountResponse, error) {
		return c.CreateAccount(ctx, &rpc.CreateAccountRequest{Username: username, Password: password})
	}, func(resp *rpc.CreateAccountResponse) bool { return resp.Message == notLeaderMessage })
}

// Login verifies credentials against whichever replica the runtime reaches.
func (r *Runtime) Login(ctx context.Context, username, password string) (*rpc.LoginResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.LoginResponse, error) {
		return c.Login(ctx, &rpc.LoginRequest{Username: username, Password: password})
	}, nil)
}

// ListAccounts lists usernames matching pattern.
func (r *Runtime) ListAccounts(ctx context.Context, username, pattern string) (*rpc.ListAccountsResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.ListAccountsResponse, error) {
		return c.ListAccounts(ctx, &rpc.ListAccountsRequest{Username: username, Pattern: pattern})
	}, nil)
}

// SendMessage delivers a message through the leader.
func (r *Runtime) SendMessage(ctx context.Context, sender, to, content string) (*rpc.SendMessageResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.SendMessageResponse, error) {
		return c.SendMessage(ctx, &rpc.SendMessageRequest{Sender: sender, To: to, Content: content})
	}, func(resp *rpc.SendMessageResponse) bool { return resp.Message == notLeaderMessage })
}

// ReadNewMessages fetches up to count unread messages and marks them read.
func (r *Runtime) ReadNewMessages(ctx context.Context, username string, count int32) (*rpc.ReadNewMessagesResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.ReadNewMessagesResponse, error) {
		return c.ReadNewMessages(ctx, &rpc.ReadNewMessagesRequest{Username: username, Count: count})
	}, nil)
}

// ListMessages fetches the already-read messages for username.
func (r *Runtime) ListMessages(ctx context.Context, username string) (*rpc.ListMessagesResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.ListMessagesResponse, error) {
		return c.ListMessages(ctx, &rpc.ListMessagesRequest{Username: username})
	}, nil)
}

// DeleteMessages deletes the given message ids through the leader.
func (r *Runtime) DeleteMessages(ctx context.Context, username string, ids []int64) (*rpc.DeleteMessagesResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.DeleteMessagesResponse, error) {
		return c.DeleteMessages(ctx, &rpc.DeleteMessagesRequest{Username: username, MessageIDs: ids})
	}, func(resp *rpc.DeleteMessagesResponse) bool { return resp.Message == notLeaderMessage })
}

// DeleteAccount deletes the account through the leader.
func (r *Runtime) DeleteAccount(ctx context.Context, username string) (*rpc.DeleteAccountResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.DeleteAccountResponse, error) {
		return c.DeleteAccount(ctx, &rpc.DeleteAccountRequest{Username: username})
	}, func(resp *rpc.DeleteAccountResponse) bool { return resp.Message == notLeaderMessage })
}

// GetLeaderInfo asks the current leader guess who leads.
func (r *Runtime) GetLeaderInfo(ctx context.Context) (*rpc.GetLeaderInfoResponse, error) {
	return call(r, ctx, func(ctx context.Context, c *rpc.ChatClient) (*rpc.GetLeaderInfoResponse, error) {
		return c.GetLeaderInfo(ctx, &rpc.GetLeaderInfoRequest{})
	}, nil)
}
