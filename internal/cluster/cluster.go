// Package cluster wires the registry, failure detector, coordinator,
// and scheduler into one service the HTTP layer talks to. One instance
// per process, owned by server.Run.
package cluster

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/clustersim/clusterd/internal/config"
	"github.com/clustersim/clusterd/internal/detector"
	"github.com/clustersim/clusterd/internal/raft"
	"github.com/clustersim/clusterd/internal/raft/storage"
	"github.com/clustersim/clusterd/internal/raft/transporthttp"
	"github.com/clustersim/clusterd/internal/registry"
	"github.com/clustersim/clusterd/internal/scheduler"
	"github.com/clustersim/clusterd/internal/types"
)

// Service is the cluster control plane.
type Service struct {
	cfg    config.Config
	reg    *registry.Registry
	det    *detector.Detector
	node   *raft.Node
	sm     *scheduler.StateMachine
	logger hclog.Logger

	cancel context.CancelFunc
}

// New assembles a service from already-constructed components.
func New(cfg config.Config, reg *registry.Registry, det *detector.Detector,
	node *raft.Node, sm *scheduler.StateMachine, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		cfg:    cfg,
		reg:    reg,
		det:    det,
		node:   node,
		sm:     sm,
		logger: logger.Named("cluster"),
	}
}

// Start launches the coordinator, the detector sweep, and the leader's
// reschedule pass. The node also joins its own registry so peers and
// quorum math see it.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.reg.Register(s.cfg.ID, s.cfg.Addr, 0)
	if err := s.node.Start(ctx); err != nil {
		return err
	}
	go s.det.Run(ctx)
	go s.selfHeartbeatLoop(ctx)
	go s.rescheduleLoop(ctx)
	return nil
}

// Stop shuts the service down.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()
	return s.node.Stop(ctx)
}

// selfHeartbeatLoop keeps this node's own registry entry alive; nobody
// else heartbeats on our behalf, and without it the detector would
// declare the node dead and evict it from its own node list.
func (s *Service) selfHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Detector.SuspectThreshold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.reg.Heartbeat(s.cfg.ID, now); err != nil {
				s.reg.Register(s.cfg.ID, s.cfg.Addr, 0)
			}
		}
	}
}

// rescheduleLoop periodically re-proposes placement for pending pods.
// Only the leader proposes; followers skip silently.
func (s *Service) rescheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RescheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.node.IsLeader() || s.sm.PendingCount() == 0 {
				continue
			}
			res, err := s.node.Propose(ctx, types.Command{Op: types.OpReschedule, Strategy: s.cfg.Strategy})
			if err != nil {
				s.logger.Warn("reschedule proposal failed", "error", err)
				continue
			}
			if res.Placed > 0 {
				s.logger.Info("rescheduled pending pods", "placed", res.Placed)
			}
		}
	}
}

// --- registry operations ---

// Register records a node's capacity through the replicated log, then
// upserts the local registry. Leader-only: a follower returns
// ErrNotLeader so the caller retries against the leader instead of
// accepting a node whose capacity would never reach the scheduler.
func (s *Service) Register(ctx context.Context, id types.NodeID, address string, cpu int) (types.Node, error) {
	if id == "" {
		id = types.NodeID(uuid.New().String())
	}
	if _, err := s.node.Propose(ctx, types.Command{Op: types.OpAddNode, NodeID: id, Address: address, CPU: cpu}); err != nil {
		return types.Node{}, err
	}
	return s.reg.Register(id, address, cpu), nil
}

func (s *Service) Heartbeat(id types.NodeID, ts time.Time) error {
	return s.reg.Heartbeat(id, ts)
}

func (s *Service) Nodes() iter.Seq[types.Node] {
	return s.reg.List()
}

// FailNode manually marks a node failed: liveness goes to dead and, via
// the log, its pods are released for rescheduling. Leader-only.
func (s *Service) FailNode(ctx context.Context, id types.NodeID) (types.ApplyResult, error) {
	res, err := s.node.Propose(ctx, types.Command{Op: types.OpFailNode, NodeID: id})
	if err != nil {
		return types.ApplyResult{}, err
	}
	if res.Ok {
		s.reg.SetState(id, types.StateDead, time.Now())
	}
	return res, nil
}

// RecoverNode reverses a manual failure. Leader-only.
func (s *Service) RecoverNode(ctx context.Context, id types.NodeID) (types.ApplyResult, error) {
	res, err := s.node.Propose(ctx, types.Command{Op: types.OpRecoverNode, NodeID: id})
	if err != nil {
		return types.ApplyResult{}, err
	}
	if res.Ok {
		s.reg.SetState(id, types.StateAlive, time.Now())
	}
	return res, nil
}

// --- scheduling ---

// LaunchPod proposes a pod launch through the log. Leader-only.
func (s *Service) LaunchPod(ctx context.Context, podID string, cpu int, strategy types.Strategy) (types.ApplyResult, error) {
	if strategy == "" {
		strategy = s.cfg.Strategy
	}
	return s.node.Propose(ctx, types.Command{Op: types.OpLaunchPod, PodID: podID, CPU: cpu, Strategy: strategy})
}

func (s *Service) Pods() []types.Pod {
	return s.sm.Pods()
}

// --- coordinator passthrough ---

func (s *Service) Vote(ctx context.Context, req transporthttp.VoteRequest) (transporthttp.VoteResponse, error) {
	return s.node.HandleRequestVote(ctx, req)
}

func (s *Service) Append(ctx context.Context, req transporthttp.AppendRequest) (transporthttp.AppendResponse, error) {
	return s.node.HandleAppendEntries(ctx, req)
}

// CommittedLog returns committed entries from index from (1 if zero).
func (s *Service) CommittedLog(from uint64) []storage.LogEntry {
	out := []storage.LogEntry{}
	for e := range s.node.Committed(from) {
		out = append(out, e)
	}
	return out
}

func (s *Service) IsLeader() bool {
	return s.node.IsLeader()
}

func (s *Service) LeaderHint() types.LeaderHint {
	return s.node.LeaderHint()
}

func (s *Service) Status() types.NodeStatus {
	return s.node.Status()
}
