package types

import "time"

// NodeID identifies a node in the cluster.
type NodeID string

// NodeState is the liveness state assigned to a node by the failure
// detector. Nodes never report their own death; state is derived from
// heartbeat timestamps.
type NodeState string

const (
	StateAlive   NodeState = "alive"
	StateSuspect NodeState = "suspect"
	StateDead    NodeState = "dead"
)

// Node is a registry snapshot of a cluster participant.
type Node struct {
	ID            NodeID    `json:"id"`
	Address       string    `json:"address"`
	CPU           int       `json:"cpu"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	State         NodeState `json:"state"`
}

// PodStatus is the scheduling status of a pod.
type PodStatus string

const (
	PodPending PodStatus = "pending"
	PodRunning PodStatus = "running"
)

// Pod is a unit of work placed onto a node by the scheduler.
type Pod struct {
	ID     string    `json:"id"`
	CPU    int       `json:"cpu"`
	NodeID NodeID    `json:"node_id,omitempty"`
	Status PodStatus `json:"status"`
}

// Strategy selects how the scheduler picks a node for a pod.
type Strategy string

const (
	FirstFit Strategy = "first_fit"
	BestFit  Strategy = "best_fit"
	WorstFit Strategy = "worst_fit"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case FirstFit, BestFit, WorstFit:
		return true
	}
	return false
}

// OpType identifies a replicated command type.
type OpType int

const (
	OpAddNode OpType = iota
	OpLaunchPod
	OpFailNode
	OpRecoverNode
	OpReschedule
)

func (o OpType) String() string {
	switch o {
	case OpAddNode:
		return "add_node"
	case OpLaunchPod:
		return "launch_pod"
	case OpFailNode:
		return "fail_node"
	case OpRecoverNode:
		return "recover_node"
	case OpReschedule:
		return "reschedule"
	default:
		return "unknown"
	}
}

// Command is an operation replicated through the log and applied to the
// scheduler state machine. Apply must be deterministic given the same
// state, so all inputs live in the command itself.
type Command struct {
	Op       OpType   `json:"op"`
	NodeID   NodeID   `json:"node_id,omitempty"`
	Address  string   `json:"address,omitempty"`
	CPU      int      `json:"cpu,omitempty"`
	PodID    string   `json:"pod_id,omitempty"`
	Strategy Strategy `json:"strategy,omitempty"`
}

// ApplyResult is the result of applying a command.
type ApplyResult struct {
	Ok      bool   `json:"ok"`
	NodeID  NodeID `json:"node_id,omitempty"`
	Placed  int    `json:"placed,omitempty"`
	ErrCode string `json:"err_code,omitempty"`
	ErrMsg  string `json:"err_msg,omitempty"`
}

// LeaderHint tells clients where the current leader is.
type LeaderHint struct {
	LeaderID   NodeID `json:"leader_id,omitempty"`
	LeaderAddr string `json:"leader_addr,omitempty"`
}

// NodeStatus holds status info about the local coordinator.
type NodeStatus struct {
	ID          NodeID     `json:"id"`
	Role        string     `json:"role"`
	Term        uint64     `json:"term"`
	CommitIndex uint64     `json:"commit_index"`
	LastApplied uint64     `json:"last_applied"`
	LastIndex   uint64     `json:"last_index"`
	LeaderHint  LeaderHint `json:"leader_hint"`
}
