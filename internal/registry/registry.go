// Package registry tracks cluster participants and their liveness
// timestamps. It is the single owner of Node records: state changes only
// through heartbeat receipt, the failure detector sweep, or the manual
// fail/recover overrides.
package registry

import (
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/clustersim/clusterd/internal/types"
)

// ErrUnknownNode is returned for operations on a node id that was never
// registered (or has been evicted).
var ErrUnknownNode = errors.New("unknown node")

// Registry is a thread-safe node registry.
type Registry struct {
	mu     sync.Mutex
	nodes  map[types.NodeID]*record
	logger hclog.Logger
}

type record struct {
	node types.Node
	// deadSince is set when the detector marks the node dead, so the
	// sweep can evict it after the retention window.
	deadSince time.Time
}

// New creates an empty registry.
func New(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		nodes:  make(map[types.NodeID]*record),
		logger: logger.Named("registry"),
	}
}

// Register upserts a node and returns its current snapshot. Registering
// an existing id updates address and capacity but keeps the liveness
// state. A blank id gets a generated one.
func (r *Registry) Register(id types.NodeID, address string, cpu int) types.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = types.NodeID(uuid.New().String())
	}
	rec, ok := r.nodes[id]
	if !ok {
		rec = &record{node: types.Node{
			ID:            id,
			Address:       address,
			CPU:           cpu,
			LastHeartbeat: time.Now(),
			State:         types.StateAlive,
		}}
		r.nodes[id] = rec
		r.logger.Info("node registered", "id", id, "address", address, "cpu", cpu)
		return rec.node
	}
	rec.node.Address = address
	rec.node.CPU = cpu
	return rec.node
}

// Heartbeat records a heartbeat for a node. Timestamps are monotonic per
// node: an out-of-order heartbeat is logged and ignored, not an error.
// A heartbeat always resets the node to alive.
func (r *Registry) Heartbeat(id types.NodeID, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[id]
	if !ok {
		return ErrUnknownNode
	}
	if ts.Before(rec.node.LastHeartbeat) {
		r.logger.Warn("out-of-order heartbeat ignored",
			"id", id, "ts", ts, "last", rec.node.LastHeartbeat)
		return nil
	}
	rec.node.LastHeartbeat = ts
	rec.node.State = types.StateAlive
	rec.deadSince = time.Time{}
	return nil
}

// Get returns a snapshot of a single node.
func (r *Registry) Get(id types.NodeID) (types.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.nodes[id]
	if !ok {
		return types.Node{}, false
	}
	return rec.node, true
}

// List returns a restartable sequence of node snapshots. The snapshot is
// taken when iteration starts, so callers may hold the sequence and
// range over it repeatedly. Order is unspecified.
func (r *Registry) List() iter.Seq[types.Node] {
	return func(yield func(types.Node) bool) {
		for _, n := range r.snapshot() {
			if !yield(n) {
				return
			}
		}
	}
}

func (r *Registry) snapshot() []types.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Node, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, rec.node)
	}
	return out
}

// AliveCount returns the number of nodes currently in the alive state.
func (r *Registry) AliveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.nodes {
		if rec.node.State == types.StateAlive {
			count++
		}
	}
	return count
}

// SetState transitions a node's liveness state. It returns the previous
// state and whether the node exists. Used by the failure detector and
// the manual fail/recover overrides.
func (r *Registry) SetState(id types.NodeID, to types.NodeState, now time.Time) (types.NodeState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.nodes[id]
	if !ok {
		return "", false
	}
	from := rec.node.State
	rec.node.State = to
	if to == types.StateDead && from != types.StateDead {
		rec.deadSince = now
	}
	if to == types.StateAlive {
		rec.deadSince = time.Time{}
		rec.node.LastHeartbeat = now
	}
	return from, true
}

// Evict removes a node outright.
func (r *Registry) Evict(id types.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; !ok {
		return false
	}
	delete(r.nodes, id)
	r.logger.Info("node evicted", "id", id)
	return true
}

// DeadSince returns when a node was marked dead, if it is dead.
func (r *Registry) DeadSince(id types.NodeID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.nodes[id]
	if !ok || rec.node.State != types.StateDead {
		return time.Time{}, false
	}
	return rec.deadSince, true
}
