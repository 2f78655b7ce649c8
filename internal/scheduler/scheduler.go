// Package scheduler is the deterministic state machine applied from
// committed log entries. It tracks node capacity and pod placement;
// given the same command sequence every replica reaches the same state.
package scheduler

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/clustersim/clusterd/internal/types"
)

type node struct {
	id      types.NodeID
	free    int // CPU not yet allocated to pods
	healthy bool
}

type pod struct {
	id       string
	cpu      int
	nodeID   types.NodeID
	status   types.PodStatus
	strategy types.Strategy
}

// StateMachine is a thread-safe pod scheduler.
type StateMachine struct {
	mu     sync.Mutex
	nodes  map[types.NodeID]*node
	pods   map[string]*pod
	logger hclog.Logger
}

// New creates an empty state machine.
func New(logger hclog.Logger) *StateMachine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &StateMachine{
		nodes:  make(map[types.NodeID]*node),
		pods:   make(map[string]*pod),
		logger: logger.Named("scheduler"),
	}
}

// Apply applies a committed command. Commands must be applied in log
// order; Apply never fails the log, it only reports per-command results.
func (sm *StateMachine) Apply(cmd types.Command) types.ApplyResult {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch cmd.Op {
	case types.OpAddNode:
		return sm.applyAddNode(cmd)
	case types.OpLaunchPod:
		return sm.applyLaunchPod(cmd)
	case types.OpFailNode:
		return sm.applyFailNode(cmd)
	case types.OpRecoverNode:
		return sm.applyRecoverNode(cmd)
	case types.OpReschedule:
		return sm.applyReschedule(cmd)
	default:
		return types.ApplyResult{Ok: false, ErrCode: "bad_request", ErrMsg: "unknown operation"}
	}
}

func (sm *StateMachine) applyAddNode(cmd types.Command) types.ApplyResult {
	if cmd.NodeID == "" {
		return types.ApplyResult{Ok: false, ErrCode: "bad_request", ErrMsg: "node id is required"}
	}
	n, ok := sm.nodes[cmd.NodeID]
	if !ok {
		sm.nodes[cmd.NodeID] = &node{id: cmd.NodeID, free: cmd.CPU, healthy: true}
		return types.ApplyResult{Ok: true, NodeID: cmd.NodeID}
	}
	// Re-adding adjusts capacity by the delta of allocated CPU.
	allocated := 0
	for _, p := range sm.pods {
		if p.nodeID == cmd.NodeID && p.status == types.PodRunning {
			allocated += p.cpu
		}
	}
	n.free = cmd.CPU - allocated
	n.healthy = true
	return types.ApplyResult{Ok: true, NodeID: cmd.NodeID}
}

func (sm *StateMachine) applyLaunchPod(cmd types.Command) types.ApplyResult {
	if cmd.PodID == "" || cmd.CPU <= 0 {
		return types.ApplyResult{Ok: false, ErrCode: "bad_request", ErrMsg: "pod id and positive cpu are required"}
	}
	if _, exists := sm.pods[cmd.PodID]; exists {
		return types.ApplyResult{Ok: false, ErrCode: "pod_exists", ErrMsg: "pod " + cmd.PodID + " already exists"}
	}
	strategy := cmd.Strategy
	if !strategy.Valid() {
		strategy = types.BestFit
	}

	total := 0
	for _, n := range sm.nodes {
		if n.healthy {
			total += n.free
		}
	}
	if total < cmd.CPU {
		return types.ApplyResult{Ok: false, ErrCode: "insufficient_capacity",
			ErrMsg: "insufficient cluster-wide resources"}
	}

	p := &pod{id: cmd.PodID, cpu: cmd.CPU, status: types.PodPending, strategy: strategy}
	sm.pods[p.id] = p
	if sm.place(p) {
		sm.logger.Info("pod placed", "pod", p.id, "node", p.nodeID, "strategy", strategy)
		return types.ApplyResult{Ok: true, NodeID: p.nodeID}
	}
	// Enough capacity cluster-wide but no single node fits; the pod
	// stays pending for the reschedule pass.
	return types.ApplyResult{Ok: false, ErrCode: "no_fit",
		ErrMsg: "no single node has enough free cpu"}
}

func (sm *StateMachine) applyFailNode(cmd types.Command) types.ApplyResult {
	n, ok := sm.nodes[cmd.NodeID]
	if !ok {
		return types.ApplyResult{Ok: false, ErrCode: "unknown_node", ErrMsg: "unknown node " + string(cmd.NodeID)}
	}
	n.healthy = false
	released := 0
	for _, p := range sm.pods {
		if p.nodeID == cmd.NodeID && p.status == types.PodRunning {
			p.nodeID = ""
			p.status = types.PodPending
			n.free += p.cpu
			released++
		}
	}
	sm.logger.Warn("node failed, pods released", "node", cmd.NodeID, "released", released)
	return types.ApplyResult{Ok: true, NodeID: cmd.NodeID}
}

func (sm *StateMachine) applyRecoverNode(cmd types.Command) types.ApplyResult {
	n, ok := sm.nodes[cmd.NodeID]
	if !ok {
		return types.ApplyResult{Ok: false, ErrCode: "unknown_node", ErrMsg: "unknown node " + string(cmd.NodeID)}
	}
	n.healthy = true
	sm.logger.Info("node recovered", "node", cmd.NodeID)
	return types.ApplyResult{Ok: true, NodeID: cmd.NodeID}
}

func (sm *StateMachine) applyReschedule(cmd types.Command) types.ApplyResult {
	// Pending pods in sorted order so every replica places identically.
	ids := make([]string, 0)
	for id, p := range sm.pods {
		if p.status == types.PodPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	placed := 0
	for _, id := range ids {
		if sm.place(sm.pods[id]) {
			placed++
			sm.logger.Info("pod rescheduled", "pod", id, "node", sm.pods[id].nodeID)
		}
	}
	return types.ApplyResult{Ok: true, Placed: placed}
}

// place assigns a pending pod to a node per its strategy. Nodes are
// scanned in sorted id order so ties break toward the lowest id.
func (sm *StateMachine) place(p *pod) bool {
	ids := make([]types.NodeID, 0, len(sm.nodes))
	for id, n := range sm.nodes {
		if n.healthy {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var chosen *node
	switch p.strategy {
	case types.FirstFit:
		for _, id := range ids {
			if n := sm.nodes[id]; n.free >= p.cpu {
				chosen = n
				break
			}
		}
	case types.WorstFit:
		maxLeftover := -1
		for _, id := range ids {
			n := sm.nodes[id]
			if n.free >= p.cpu && n.free-p.cpu > maxLeftover {
				maxLeftover = n.free - p.cpu
				chosen = n
			}
		}
	default: // best fit
		minFree := -1
		for _, id := range ids {
			n := sm.nodes[id]
			if n.free >= p.cpu && (minFree == -1 || n.free < minFree) {
				minFree = n.free
				chosen = n
			}
		}
	}

	if chosen == nil {
		return false
	}
	chosen.free -= p.cpu
	p.nodeID = chosen.id
	p.status = types.PodRunning
	return true
}

// Pods returns pod snapshots sorted by id.
func (sm *StateMachine) Pods() []types.Pod {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]types.Pod, 0, len(sm.pods))
	for _, p := range sm.pods {
		out = append(out, types.Pod{ID: p.id, CPU: p.cpu, NodeID: p.nodeID, Status: p.status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingCount returns how many pods are awaiting placement.
func (sm *StateMachine) PendingCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	count := 0
	for _, p := range sm.pods {
		if p.status == types.PodPending {
			count++
		}
	}
	return count
}

// FreeCPU reports a node's unallocated CPU.
func (sm *StateMachine) FreeCPU(id types.NodeID) (int, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	n, ok := sm.nodes[id]
	if !ok {
		return 0, false
	}
	return n.free, true
}
