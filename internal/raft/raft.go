// Package raft implements the term-based election coordinator and the
// leader-driven replication log. One coordinator instance runs per
// process; all role, term, and vote state is guarded by a single mutex
// so Term and LeaderState are never observed half-updated.
package raft

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/clustersim/clusterd/internal/config"
	"github.com/clustersim/clusterd/internal/detector"
	"github.com/clustersim/clusterd/internal/raft/storage"
	"github.com/clustersim/clusterd/internal/raft/transporthttp"
	"github.com/clustersim/clusterd/internal/types"
)

const (
	RoleLeader    = "leader"
	RoleFollower  = "follower"
	RoleCandidate = "candidate"
)

var (
	// ErrNotLeader is returned for leader-only operations on a
	// follower or candidate.
	ErrNotLeader = errors.New("not leader")
	// ErrStaleTerm is returned when an append carries a term older
	// than the receiver's.
	ErrStaleTerm = errors.New("stale term")
	// ErrLogGap is returned when appended entries do not start at the
	// follower's last index + 1. The log is never mutated by a
	// rejected batch.
	ErrLogGap = errors.New("log gap")
)

// Applier is the state machine committed entries are applied to.
type Applier interface {
	Apply(types.Command) types.ApplyResult
}

// NodeLister supplies liveness snapshots for majority sizing. Majority
// is computed over currently known alive nodes, not the static peer set.
type NodeLister interface {
	List() iter.Seq[types.Node]
}

// Config holds coordinator configuration.
type Config struct {
	ID     types.NodeID
	Addr   string // advertised address
	Peers  []types.NodeID
	Timing config.TimingConfig
	Rand   *rand.Rand // optional, for deterministic tests
}

// Node is the election coordinator plus replication log manager.
type Node struct {
	cfg    Config
	stable storage.StableStore
	log    storage.LogStore
	tp     transporthttp.Transport
	sm     Applier
	nodes  NodeLister
	events <-chan detector.Event
	logger hclog.Logger

	mu          sync.Mutex
	role        string
	currentTerm uint64
	votedFor    types.NodeID
	leaderHint  types.LeaderHint
	commitIndex uint64
	lastApplied uint64

	matchIndex map[types.NodeID]uint64
	nextIndex  map[types.NodeID]uint64

	// results of recently applied entries, for in-flight proposals
	resultsMu sync.Mutex
	results   map[uint64]types.ApplyResult

	ctx             context.Context
	cancel          context.CancelFunc
	applierDone     chan struct{}
	applierCh       chan struct{}
	electionResetCh chan struct{}
	heartbeatStopCh chan struct{}

	rand *rand.Rand
}

// NewNode creates a coordinator. events may be nil when no failure
// detector is wired (tests); nodes may be nil to size majority from the
// static peer set.
func NewNode(cfg Config, stable storage.StableStore, log storage.LogStore, tp transporthttp.Transport,
	sm Applier, nodes NodeLister, events <-chan detector.Event, logger hclog.Logger) (*Node, error) {

	term, err := stable.GetCurrentTerm()
	if err != nil {
		return nil, err
	}
	votedFor, _, err := stable.GetVotedFor()
	if err != nil {
		return nil, err
	}

	if cfg.Timing.ElectionTimeoutMin == 0 {
		cfg.Timing = config.Default().Timing
	}
	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Node{
		cfg:             cfg,
		stable:          stable,
		log:             log,
		tp:              tp,
		sm:              sm,
		nodes:           nodes,
		events:          events,
		logger:          logger.Named("raft").With("id", cfg.ID),
		role:            RoleFollower,
		currentTerm:     term,
		votedFor:        votedFor,
		matchIndex:      make(map[types.NodeID]uint64),
		nextIndex:       make(map[types.NodeID]uint64),
		results:         make(map[uint64]types.ApplyResult),
		applierCh:       make(chan struct{}, 1),
		electionResetCh: make(chan struct{}, 1),
		rand:            r,
	}, nil
}

// Start launches the applier and election loops.
func (n *Node) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.applierDone = make(chan struct{})
	go n.applierLoop()
	go n.electionLoop()
	return nil
}

// Stop shuts the coordinator down.
func (n *Node) Stop(ctx context.Context) error {
	n.cancel()
	select {
	case <-n.applierDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == RoleLeader
}

func (n *Node) LeaderHint() types.LeaderHint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderHint
}

func (n *Node) Status() types.NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	lastIdx, _ := n.log.LastIndex()
	return types.NodeStatus{
		ID:          n.cfg.ID,
		Role:        n.role,
		Term:        n.currentTerm,
		CommitIndex: n.commitIndex,
		LastApplied: n.lastApplied,
		LastIndex:   lastIdx,
		LeaderHint:  n.leaderHint,
	}
}

func (n *Node) randomElectionTimeout() time.Duration {
	min := n.cfg.Timing.ElectionTimeoutMin
	max := n.cfg.Timing.ElectionTimeoutMax
	return min + time.Duration(n.rand.Int63n(int64(max-min)))
}

// rankBackoff orders candidacy by id: the lowest id among known alive
// nodes moves first. Used for split-vote retries and for elections
// triggered by a leader-death event, so the winner is deterministic.
func (n *Node) rankBackoff() time.Duration {
	ids := n.aliveIDs()
	rank := 0
	for i, id := range ids {
		if id == n.cfg.ID {
			rank = i
			break
		}
	}
	base := n.cfg.Timing.ElectionTimeoutMin / 2
	return base + time.Duration(rank)*base
}

// aliveIDs returns the sorted ids of voting members currently believed
// alive. Members are self plus the configured peers; the registry
// supplies liveness. A member the registry has never seen counts as
// alive (unknown is not dead), and registered non-members never affect
// quorum.
func (n *Node) aliveIDs() []types.NodeID {
	members := make([]types.NodeID, 0, len(n.cfg.Peers)+1)
	members = append(members, n.cfg.ID)
	members = append(members, n.cfg.Peers...)

	var states map[types.NodeID]types.NodeState
	if n.nodes != nil {
		states = make(map[types.NodeID]types.NodeState)
		for node := range n.nodes.List() {
			states[node.ID] = node.State
		}
	}

	ids := members[:0]
	for _, id := range members {
		if st, ok := states[id]; ok && st != types.StateAlive {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// majoritySize returns the strict majority over currently known alive
// nodes.
func (n *Node) majoritySize() int {
	return len(n.aliveIDs())/2 + 1
}

func (n *Node) resetElectionTimer() {
	select {
	case n.electionResetCh <- struct{}{}:
	default:
	}
}

func (n *Node) electionLoop() {
	timer := time.NewTimer(n.randomElectionTimeout())
	defer timer.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-n.electionResetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.randomElectionTimeout())
		case ev, ok := <-n.events:
			if !ok {
				n.events = nil
				continue
			}
			if !n.leaderDied(ev) {
				continue
			}
			// Stagger candidacy by rank so the lowest alive id moves
			// first and the successor is deterministic.
			n.logger.Warn("leader death detected", "leader", ev.NodeID)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.rankBackoff())
		case <-timer.C:
			timer.Reset(n.runElection())
		}
	}
}

// leaderDied reports whether a detector event names the current leader
// going dead while this node is not the leader itself.
func (n *Node) leaderDied(ev detector.Event) bool {
	if ev.To != types.StateDead {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role != RoleLeader && n.leaderHint.LeaderID == ev.NodeID
}

// runElection starts an election unless this node is already leader,
// and returns the delay until the next election attempt: rank-ordered
// backoff after a split vote, randomized otherwise.
func (n *Node) runElection() time.Duration {
	n.mu.Lock()
	role := n.role
	n.mu.Unlock()
	if role == RoleLeader {
		return n.randomElectionTimeout()
	}
	if won := n.startElection(); won {
		return n.randomElectionTimeout()
	}
	n.mu.Lock()
	stillCandidate := n.role == RoleCandidate
	n.mu.Unlock()
	if stillCandidate {
		return n.rankBackoff()
	}
	return n.randomElectionTimeout()
}

// startElection runs one candidate round: bump term, vote for self,
// request votes, count. Reports whether this node won.
func (n *Node) startElection() bool {
	n.mu.Lock()
	n.currentTerm++
	n.role = RoleCandidate
	n.votedFor = n.cfg.ID
	term := n.currentTerm
	n.stable.SetCurrentTerm(term)
	n.stable.SetVotedFor(n.cfg.ID)
	peers := make([]types.NodeID, len(n.cfg.Peers))
	copy(peers, n.cfg.Peers)
	n.mu.Unlock()

	n.logger.Info("starting election", "term", term)

	req := transporthttp.VoteRequest{Term: term, CandidateID: n.cfg.ID}

	type voteResult struct {
		resp transporthttp.VoteResponse
		err  error
	}
	results := make(chan voteResult, len(peers))

	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.Timing.ElectionTimeoutMin)
	defer cancel()

	for _, p := range peers {
		go func(peer types.NodeID) {
			if n.tp == nil {
				results <- voteResult{err: fmt.Errorf("no transport")}
				return
			}
			resp, err := n.tp.RequestVote(ctx, peer, req)
			results <- voteResult{resp, err}
		}(p)
	}

	votes := 1 // self
	for range peers {
		select {
		case <-ctx.Done():
		case vr := <-results:
			if vr.err != nil {
				continue
			}
			if vr.resp.Term > term {
				n.stepDown(vr.resp.Term)
				return false
			}
			if vr.resp.Granted {
				votes++
			}
		}
	}

	majority := n.majoritySize()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != RoleCandidate || n.currentTerm != term {
		return false
	}
	if votes < majority {
		n.logger.Info("split vote", "term", term, "votes", votes, "needed", majority)
		return false
	}
	n.becomeLeaderLocked()
	return true
}

func (n *Node) becomeLeaderLocked() {
	n.role = RoleLeader
	n.leaderHint = types.LeaderHint{LeaderID: n.cfg.ID, LeaderAddr: n.cfg.Addr}
	n.logger.Info("became leader", "term", n.currentTerm)

	lastIdx, _ := n.log.LastIndex()
	for _, p := range n.cfg.Peers {
		n.nextIndex[p] = lastIdx + 1
		n.matchIndex[p] = 0
	}

	n.heartbeatStopCh = make(chan struct{})
	go n.heartbeatLoop(n.heartbeatStopCh)
}

// heartbeatLoop drives replication while leader. Every tick sends
// AppendEntries to each peer carrying whatever that peer is missing, so
// entries that failed to replicate are retried on the next cycle.
func (n *Node) heartbeatLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(n.cfg.Timing.HeartbeatInterval)
	defer ticker.Stop()

	n.broadcastAppend()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !n.IsLeader() {
				return
			}
			n.broadcastAppend()
			n.advanceCommitIndex()
		}
	}
}

func (n *Node) broadcastAppend() {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return
	}
	peers := make([]types.NodeID, len(n.cfg.Peers))
	copy(peers, n.cfg.Peers)
	n.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(peer types.NodeID) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(n.ctx, n.cfg.Timing.HeartbeatInterval)
			defer cancel()
			n.replicateToPeer(ctx, peer)
		}(p)
	}
	wg.Wait()
}

// replicateToPeer sends one AppendEntries to a peer with the entries it
// is missing and folds the response into matchIndex/nextIndex.
func (n *Node) replicateToPeer(ctx context.Context, peer types.NodeID) bool {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return false
	}
	term := n.currentTerm
	commitIndex := n.commitIndex
	nextIdx := n.nextIndex[peer]
	if nextIdx < 1 {
		nextIdx = 1
	}
	lastIdx, _ := n.log.LastIndex()

	var entries []storage.LogEntry
	if nextIdx <= lastIdx {
		var err error
		entries, err = n.log.ReadRange(nextIdx, lastIdx)
		if err != nil {
			n.mu.Unlock()
			return false
		}
	}
	n.mu.Unlock()

	if n.tp == nil {
		return false
	}

	req := transporthttp.AppendRequest{
		Term:         term,
		LeaderID:     n.cfg.ID,
		LeaderAddr:   n.cfg.Addr,
		Entries:      entries,
		LeaderCommit: commitIndex,
	}
	resp, err := n.tp.AppendEntries(ctx, peer, req)
	if err != nil {
		return false
	}

	if resp.Term > term {
		n.stepDown(resp.Term)
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != RoleLeader || n.currentTerm != term {
		return false
	}
	if resp.Success {
		if resp.MatchIndex > n.matchIndex[peer] {
			n.matchIndex[peer] = resp.MatchIndex
		}
		n.nextIndex[peer] = n.matchIndex[peer] + 1
		return true
	}
	// Gap rejection: the follower told us its last index, backfill
	// from there on the next attempt.
	n.nextIndex[peer] = resp.MatchIndex + 1
	return false
}

// advanceCommitIndex moves commitIndex to the highest index replicated
// on a majority. Only entries from the current term commit directly.
func (n *Node) advanceCommitIndex() {
	majority := n.majoritySize()

	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return
	}
	lastIdx, _ := n.log.LastIndex()
	advanced := false
	for idx := n.commitIndex + 1; idx <= lastIdx; idx++ {
		term, err := n.log.TermAt(idx)
		if err != nil || term != n.currentTerm {
			continue
		}
		replicas := 1
		for _, peer := range n.cfg.Peers {
			if n.matchIndex[peer] >= idx {
				replicas++
			}
		}
		if replicas >= majority {
			n.commitIndex = idx
			advanced = true
		}
	}
	n.mu.Unlock()

	if advanced {
		n.signalApplier()
	}
}

func (n *Node) stepDown(newTerm uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stepDownLocked(newTerm)
}

func (n *Node) stepDownLocked(newTerm uint64) {
	if newTerm > n.currentTerm {
		n.currentTerm = newTerm
		n.stable.SetCurrentTerm(newTerm)
		n.votedFor = ""
		n.stable.ClearVotedFor()
	}
	if n.role == RoleLeader && n.heartbeatStopCh != nil {
		close(n.heartbeatStopCh)
		n.heartbeatStopCh = nil
	}
	if n.role != RoleFollower {
		n.logger.Info("stepping down", "term", n.currentTerm)
	}
	n.role = RoleFollower
}

// Propose appends a command on the leader, replicates it, and returns
// the applied result once a majority has acknowledged the entry.
func (n *Node) Propose(ctx context.Context, cmd types.Command) (types.ApplyResult, error) {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return types.ApplyResult{}, ErrNotLeader
	}
	term := n.currentTerm
	lastIdx, err := n.log.LastIndex()
	if err != nil {
		n.mu.Unlock()
		return types.ApplyResult{}, err
	}
	newIdx := lastIdx + 1
	entry := storage.LogEntry{Index: newIdx, Term: term, Cmd: cmd}
	if err := n.log.Append([]storage.LogEntry{entry}); err != nil {
		n.mu.Unlock()
		return types.ApplyResult{}, err
	}
	peers := make([]types.NodeID, len(n.cfg.Peers))
	copy(peers, n.cfg.Peers)
	n.mu.Unlock()

	// Replicate now; un-acked peers are retried by the heartbeat loop.
	acks := 1
	results := make(chan bool, len(peers))
	for _, p := range peers {
		go func(peer types.NodeID) {
			// One immediate retry covers the common backfill case.
			for attempt := 0; attempt < 2; attempt++ {
				if n.replicateToPeer(ctx, peer) {
					results <- true
					return
				}
				n.mu.Lock()
				stillLeader := n.role == RoleLeader && n.currentTerm == term
				n.mu.Unlock()
				if !stillLeader {
					break
				}
			}
			results <- false
		}(p)
	}
	for range peers {
		select {
		case ok := <-results:
			if ok {
				acks++
			}
		case <-ctx.Done():
			return types.ApplyResult{}, ctx.Err()
		}
	}

	n.mu.Lock()
	stillLeader := n.role == RoleLeader && n.currentTerm == term
	n.mu.Unlock()
	if !stillLeader {
		return types.ApplyResult{}, ErrNotLeader
	}
	if acks < n.majoritySize() {
		return types.ApplyResult{}, fmt.Errorf("replication lost majority: %d/%d acks", acks, n.majoritySize())
	}

	n.advanceCommitIndex()

	// Apply up to the new entry and return its result.
	if err := n.waitApplied(ctx, newIdx); err != nil {
		return types.ApplyResult{}, err
	}
	return n.applyResultAt(newIdx), nil
}

// HandleRequestVote grants a vote iff the candidate's term is at least
// ours and no differing vote has been cast this term.
func (n *Node) HandleRequestVote(ctx context.Context, req transporthttp.VoteRequest) (transporthttp.VoteResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term > n.currentTerm {
		n.stepDownLocked(req.Term)
	}
	if req.Term < n.currentTerm {
		return transporthttp.VoteResponse{Term: n.currentTerm, Granted: false}, nil
	}
	if n.votedFor != "" && n.votedFor != req.CandidateID {
		return transporthttp.VoteResponse{Term: n.currentTerm, Granted: false}, nil
	}
	n.votedFor = req.CandidateID
	n.stable.SetVotedFor(req.CandidateID)
	n.resetElectionTimer()
	return transporthttp.VoteResponse{Term: n.currentTerm, Granted: true}, nil
}

// HandleAppendEntries processes a leader append (or heartbeat when
// Entries is empty). It resets the election timer on any valid call.
// Returns ErrStaleTerm when the sender's term is behind, ErrLogGap when
// the batch does not connect to the local log; a gap rejection carries
// the local last index so the leader can backfill.
func (n *Node) HandleAppendEntries(ctx context.Context, req transporthttp.AppendRequest) (transporthttp.AppendResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term > n.currentTerm {
		n.stepDownLocked(req.Term)
	}
	lastIdx, _ := n.log.LastIndex()
	if req.Term < n.currentTerm {
		return transporthttp.AppendResponse{Term: n.currentTerm, Success: false, MatchIndex: lastIdx}, ErrStaleTerm
	}

	// Valid append from the current term's leader: cancel any running
	// election timer and abandon candidacy.
	n.resetElectionTimer()
	n.leaderHint = types.LeaderHint{LeaderID: req.LeaderID, LeaderAddr: req.LeaderAddr}
	if n.role == RoleCandidate {
		n.role = RoleFollower
	}

	if len(req.Entries) > 0 {
		first := req.Entries[0].Index
		if first > lastIdx+1 {
			return transporthttp.AppendResponse{Term: n.currentTerm, Success: false, MatchIndex: lastIdx}, ErrLogGap
		}
		for i, entry := range req.Entries {
			if entry.Index <= lastIdx {
				existingTerm, err := n.log.TermAt(entry.Index)
				if err == nil && existingTerm == entry.Term {
					continue // duplicate delivery of a known entry
				}
				// Uncommitted conflict from a deposed leader: drop the
				// divergent suffix and take the new entries.
				if err := n.log.DeleteFrom(entry.Index); err != nil {
					return transporthttp.AppendResponse{Term: n.currentTerm, Success: false, MatchIndex: entry.Index - 1}, err
				}
			}
			if err := n.log.Append(req.Entries[i:]); err != nil {
				return transporthttp.AppendResponse{Term: n.currentTerm, Success: false, MatchIndex: entry.Index - 1}, err
			}
			break
		}
		lastIdx, _ = n.log.LastIndex()
	}

	newCommit := min(req.LeaderCommit, lastIdx)
	if newCommit > n.commitIndex {
		n.commitIndex = newCommit
		n.signalApplier()
	}

	return transporthttp.AppendResponse{Term: n.currentTerm, Success: true, MatchIndex: lastIdx}, nil
}

// Committed returns a finite, restartable sequence of committed entries
// starting at index from (minimum 1). Each iteration re-reads the log,
// so a held sequence observes later commits too.
func (n *Node) Committed(from uint64) iter.Seq[storage.LogEntry] {
	return func(yield func(storage.LogEntry) bool) {
		if from < 1 {
			from = 1
		}
		n.mu.Lock()
		hi := n.commitIndex
		n.mu.Unlock()
		if hi < from {
			return
		}
		entries, err := n.log.ReadRange(from, hi)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

// CommitIndex returns the highest committed index.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

func (n *Node) signalApplier() {
	select {
	case n.applierCh <- struct{}{}:
	default:
	}
}

func (n *Node) applierLoop() {
	defer close(n.applierDone)
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-n.applierCh:
			n.applyCommitted()
		}
	}
}

// applyCommitted applies entries in strictly increasing index order and
// records the result of each for pending proposals.
func (n *Node) applyCommitted() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		lo := n.lastApplied + 1
		hi := n.commitIndex
		n.mu.Unlock()

		entries, err := n.log.ReadRange(lo, hi)
		if err != nil {
			n.logger.Error("read committed range failed", "lo", lo, "hi", hi, "error", err)
			return
		}
		for _, e := range entries {
			result := n.sm.Apply(e.Cmd)
			n.mu.Lock()
			n.lastApplied = e.Index
			n.mu.Unlock()
			n.recordResult(e.Index, result)
		}
	}
}

// --- apply results for in-flight proposals ---

// resultWindow bounds how many recent apply results are kept for
// proposers still waiting on Propose.
const resultWindow = 256

func (n *Node) recordResult(index uint64, result types.ApplyResult) {
	n.resultsMu.Lock()
	defer n.resultsMu.Unlock()
	n.results[index] = result
	if index > uint64(resultWindow) {
		delete(n.results, index-uint64(resultWindow))
	}
}

func (n *Node) applyResultAt(index uint64) types.ApplyResult {
	n.resultsMu.Lock()
	defer n.resultsMu.Unlock()
	if r, ok := n.results[index]; ok {
		return r
	}
	return types.ApplyResult{Ok: false, ErrCode: "apply_lost", ErrMsg: "apply result no longer buffered"}
}

// waitApplied blocks until lastApplied reaches index.
func (n *Node) waitApplied(ctx context.Context, index uint64) error {
	n.signalApplier()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		n.mu.Lock()
		applied := n.lastApplied
		n.mu.Unlock()
		if applied >= index {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
