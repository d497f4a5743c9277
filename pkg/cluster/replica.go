// Package cluster maintains each replica's view of the cluster: leadership,
// the peer address set, and the heartbeat lease. It runs the leader's
// heartbeat sender, the follower's election monitor, and the bully-style
// election, and implements the joining procedure for replicas entering a
// running cluster.
package cluster

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UnknownLeader is the wire value a follower reports when it has not yet
// heard from any leader.
const UnknownLeader = "Unknown"

const (
	peerRPCTimeout     = 2 * time.Second
	monitorTick        = 1 * time.Second
	electionBackoffMax = 2 * time.Second
)

// LeaderInfo is the answer to a leader lookup, as returned by any replica.
type LeaderInfo struct {
	Success          bool
	LeaderAddress    string
	Message          string
	ReplicaAddresses []string
}

// Transport carries the replica-to-replica RPCs.
type Transport interface {
	Heartbeat(ctx context.Context, target string, leaderID int, leaderAddress string) error
	Election(ctx context.Context, target string, candidateID int) (bool, error)
	GetLeaderInfo(ctx context.Context, target string) (*LeaderInfo, error)
	JoinCluster(ctx context.Context, target, newServerAddress string) ([]byte, error)
}

// Config holds the static identity and timing of one replica.
type Config struct {
	ServerID          int
	Address           string
	Peers             []string
	InitialLeader     bool
	HeartbeatInterval time.Duration
	LeaseTimeout      time.Duration
}

// Replica is the explicit per-process cluster context. All mutable view
// state is guarded; background loops hold the Replica, never globals.
type Replica struct {
	mu sync.RWMutex

	serverID int
	address  string

	isLeader      bool
	leaderAddress string
	peers         []string
	lastHeartbeat time.Time

	heartbeatInterval time.Duration
	leaseTimeout      time.Duration
	backoffMax        time.Duration // shortened in tests

	transport Transport
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the replica view. Peers may include the replica's own address;
// it is skipped where self-delivery would be wrong.
func New(cfg Config, transport Transport, logger *zap.Logger) *Replica {
	peers := make([]string, len(cfg.Peers))
	copy(peers, cfg.Peers)

	r := &Replica{
		serverID:          cfg.ServerID,
		address:           cfg.Address,
		isLeader:          cfg.InitialLeader,
		peers:             peers,
		lastHeartbeat:     time.Now(),
		heartbeatInterval: cfg.HeartbeatInterval,
		leaseTimeout:      cfg.LeaseTimeout,
		backoffMax:        electionBackoffMax,
		transport:         transport,
		logger:            logger.With(zap.Int("server_id", cfg.ServerID), zap.String("address", cfg.Address)),
	}
	if cfg.InitialLeader {
		r.leaderAddress = cfg.Address
	}
	return r
}

// Start launches the background loops: the heartbeat sender when this
// replica is the configured initial leader, and the election monitor, which
// idles while the replica leads.
func (r *Replica) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	if r.IsLeader() {
		r.logger.Info("starting as initial leader")
		r.wg.Add(1)
		go r.heartbeatLoop()
	}

	r.wg.Add(1)
	go r.monitorLoop()
}

// Stop cancels the background loops and waits for them to exit.
func (r *Replica) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// IsLeader reports whether this replica currently originates writes.
func (r *Replica) IsLeader() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isLeader
}

// ServerID returns the election priority of this replica.
func (r *Replica) ServerID() int {
	return r.serverID
}

// SelfAddress returns the address this replica advertises.
func (r *Replica) SelfAddress() string {
	return r.address
}

// LeaderAddress returns the last known leader address, or "" if none.
func (r *Replica) LeaderAddress() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaderAddress
}

// SetLeaderAddress records a leader located out of band (joining).
func (r *Replica) SetLeaderAddress(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaderAddress = addr
}

// Peers returns a copy of the peer address set.
func (r *Replica) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]string, len(r.peers))
	copy(peers, r.peers)
	return peers
}

// RegisterPeer adds an address to the peer set if absent. Addresses are only
// ever added, never replaced.
func (r *Replica) RegisterPeer(addr string) {
	if addr == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if p == addr {
			return
		}
	}
	r.peers = append(r.peers, addr)
	r.logger.Info("peer registered", zap.String("peer", addr))
}

// RecordHeartbeat renews the lease on an inbound heartbeat and tracks the
// sender as the current leader. A leader receiving a foreign heartbeat does
// not demote itself; divergence under partition is a documented weakness of
// this protocol.
func (r *Replica) RecordHeartbeat(leaderID int, leaderAddress string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHeartbeat = time.Now()
	r.leaderAddress = leaderAddress
	if r.isLeader && leaderAddress != r.address {
		r.logger.Warn("heartbeat from another leader while leading",
			zap.Int("leader_id", leaderID), zap.String("leader_address", leaderAddress))
	}
}

// ResetLease stamps the lease as freshly renewed. Joiners call this after
// state transfer so they do not immediately start an election.
func (r *Replica) ResetLease() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHeartbeat = time.Now()
}

// VoteOn answers an Election RPC: grant iff our id is at least the
// candidate's. A candidate is vetoed only by a live peer with a lower id,
// so among simultaneous campaigners the lowest live id prevails.
func (r *Replica) VoteOn(candidateID int) bool {
	return r.serverID >= candidateID
}

// Info answers a leader lookup from this replica's point of view.
func (r *Replica) Info() *LeaderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]string, len(r.peers))
	copy(peers, r.peers)

	if r.isLeader {
		return &LeaderInfo{
			Success:          true,
			LeaderAddress:    r.address,
			Message:          "I am leader",
			ReplicaAddresses: peers,
		}
	}
	addr := r.leaderAddress
	if addr == "" {
		addr = UnknownLeader
	}
	return &LeaderInfo{
		Success:          true,
		LeaderAddress:    addr,
		Message:          "Follower reporting leader info",
		ReplicaAddresses: peers,
	}
}

// heartbeatLoop sends Heartbeat to every peer each interval while this
// replica leads. Peer failures are logged; none demote the leader.
func (r *Replica) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	r.sendHeartbeats()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if !r.IsLeader() {
				return
			}
			r.sendHeartbeats()
		}
	}
}

func (r *Replica) sendHeartbeats() {
	var wg sync.WaitGroup
	for _, peer := range r.Peers() {
		if peer == r.address {
			continue
		}
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.ctx, peerRPCTimeout)
			defer cancel()
			if err := r.transport.Heartbeat(ctx, peer, r.serverID, r.address); err != nil {
				r.logger.Warn("heartbeat failed", zap.String("peer", peer), zap.Error(err))
			}
		}(peer)
	}
	wg.Wait()
}

// monitorLoop watches the lease once per second and starts an election when
// it expires. It idles while this replica leads.
func (r *Replica) monitorLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if r.IsLeader() {
				continue
			}
			r.mu.RLock()
			expired := time.Since(r.lastHeartbeat) > r.leaseTimeout
			r.mu.RUnlock()
			if expired {
				r.logger.Info("lease expired, starting election")
				r.startElection()
			}
		}
	}
}

// startElection runs one bully-style round: random backoff, then ask every
// peer for a vote. Any live peer with a lower id rejects us and the round is
// lost. Unreachable peers cannot veto. Winning promotes this replica and
// launches the heartbeat sender.
func (r *Replica) startElection() {
	backoff := time.Duration(rand.Int63n(int64(r.backoffMax)))
	select {
	case <-r.ctx.Done():
		return
	case <-time.After(backoff):
	}

	for _, peer := range r.Peers() {
		if peer == r.address {
			continue
		}
		ctx, cancel := context.WithTimeout(r.ctx, peerRPCTimeout)
		granted, err := r.transport.Election(ctx, peer, r.serverID)
		cancel()
		if err != nil {
			r.logger.Warn("election call failed", zap.String("peer", peer), zap.Error(err))
			continue
		}
		if !granted {
			r.logger.Info("election lost, remaining follower", zap.String("rejected_by", peer))
			return
		}
	}
	r.becomeLeader()
}

func (r *Replica) becomeLeader() {
	r.mu.Lock()
	if r.isLeader {
		r.mu.Unlock()
		return
	}
	r.isLeader = true
	r.leaderAddress = r.address
	r.mu.Unlock()

	r.logger.Info("elected as new leader")
	r.wg.Add(1)
	go r.heartbeatLoop()
}
