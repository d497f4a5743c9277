package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vzdtic/replicated-chat/pkg/store"
)

var ErrNoLeaderFound = errors.New("no leader found among candidate addresses")

const (
	probeTimeout  = 2 * time.Second
	lookupBudget  = 5 * time.Second
	joinRPCBudget = 3 * time.Second
)

// Joiner brings a fresh replica into a running cluster: locate the leader by
// probing every configured instance in parallel, request a full state
// snapshot, and replace the local store with it.
type Joiner struct {
	transport Transport
	logger    *zap.Logger
}

// NewJoiner creates a joiner using the given peer transport.
func NewJoiner(transport Transport, logger *zap.Logger) *Joiner {
	return &Joiner{transport: transport, logger: logger}
}

// FindLeader scatters GetLeaderInfo over the candidates. The first response
// naming a valid leader wins; the remaining probes are cancelled. The whole
// lookup is bounded by a 5 second budget.
func (j *Joiner) FindLeader(ctx context.Context, candidates []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupBudget)
	defer cancel()

	results := make(chan string, len(candidates))
	for _, addr := range candidates {
		go func(addr string) {
			probeCtx, probeCancel := context.WithTimeout(ctx, probeTimeout)
			defer probeCancel()
			info, err := j.transport.GetLeaderInfo(probeCtx, addr)
			if err != nil {
				j.logger.Debug("leader probe failed", zap.String("candidate", addr), zap.Error(err))
				return
			}
			if info.Success && info.LeaderAddress != "" && info.LeaderAddress != UnknownLeader {
				j.logger.Info("found leader",
					zap.String("leader", info.LeaderAddress), zap.String("via", addr))
				select {
				case results <- info.LeaderAddress:
				default:
				}
			}
		}(addr)
	}

	select {
	case leader := <-results:
		return leader, nil
	case <-ctx.Done():
		return "", ErrNoLeaderFound
	}
}

// Join locates the leader among candidates, requests the state snapshot,
// replaces the local store wholesale, and leaves the replica a follower with
// a fresh lease.
func (j *Joiner) Join(ctx context.Context, r *Replica, st *store.Store, candidates []string) error {
	leader, err := j.FindLeader(ctx, candidates)
	if err != nil {
		return err
	}

	joinCtx, cancel := context.WithTimeout(ctx, joinRPCBudget)
	defer cancel()
	state, err := j.transport.JoinCluster(joinCtx, leader, r.SelfAddress())
	if err != nil {
		return fmt.Errorf("join request to %s failed: %w", leader, err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return fmt.Errorf("bad state snapshot from leader: %w", err)
	}
	if err := st.ReplaceAll(&snap); err != nil {
		return fmt.Errorf("failed to install state snapshot: %w", err)
	}

	r.SetLeaderAddress(leader)
	r.ResetLease()
	j.logger.Info("joined cluster, state transferred",
		zap.String("leader", leader),
		zap.Int("accounts", len(snap.Accounts)),
		zap.Int("messages", len(snap.Messages)))
	return nil
}
