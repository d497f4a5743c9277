package replication

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeerTransport sends a record to one peer replica.
type PeerTransport interface {
	ReplicateOperation(ctx context.Context, target string, rec Record) error
}

const defaultPeerTimeout = 2 * time.Second

// Fanout replicates committed leader writes to peers. Replication is
// asynchronous and best effort: a slow or dead peer never fails the client
// request, failures are logged and dropped.
type Fanout struct {
	transport PeerTransport
	self      string
	timeout   time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewFanout creates a fan-out for the replica at self.
func NewFanout(transport PeerTransport, self string, logger *zap.Logger) *Fanout {
	return &Fanout{
		transport: transport,
		self:      self,
		timeout:   defaultPeerTimeout,
		logger:    logger,
	}
}

// Replicate sends rec to every peer except self, each on its own goroutine
// with a per-peer timeout. It returns immediately.
func (f *Fanout) Replicate(peers []string, rec Record) {
	for _, peer := range peers {
		if peer == f.self {
			continue
		}
		f.wg.Add(1)
		go func(peer string) {
			defer f.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			if err := f.transport.ReplicateOperation(ctx, peer, rec); err != nil {
				f.logger.Warn("replication to peer failed",
					zap.String("peer", peer),
					zap.String("operation", string(rec.OperationType)),
					zap.Error(err))
			}
		}(peer)
	}
}

// Wait blocks until all in-flight replications have completed or timed out.
// Used on shutdown and by tests that need replication quiescence.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
