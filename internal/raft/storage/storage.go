package storage

import (
	"fmt"
	"sync"

	"github.com/clustersim/clusterd/internal/types"
)

// LogEntry is a single entry in the replicated log. Indexes start at 1
// and are gapless; committed entries are never mutated.
type LogEntry struct {
	Index uint64        `json:"index"`
	Term  uint64        `json:"term"`
	Cmd   types.Command `json:"cmd"`
}

// StableStore persists durable election state (term, vote).
type StableStore interface {
	GetCurrentTerm() (uint64, error)
	SetCurrentTerm(uint64) error
	GetVotedFor() (types.NodeID, bool, error)
	SetVotedFor(types.NodeID) error
	ClearVotedFor() error
}

// LogStore persists the replicated log.
type LogStore interface {
	LastIndex() (uint64, error)
	TermAt(index uint64) (uint64, error)
	Append(entries []LogEntry) error
	ReadRange(lo, hi uint64) ([]LogEntry, error)
	DeleteFrom(index uint64) error
}

// --- Memory implementations ---

// MemStableStore is an in-memory StableStore.
type MemStableStore struct {
	mu       sync.Mutex
	term     uint64
	votedFor types.NodeID
	hasVote  bool
}

func NewMemStableStore() *MemStableStore {
	return &MemStableStore{}
}

func (s *MemStableStore) GetCurrentTerm() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, nil
}

func (s *MemStableStore) SetCurrentTerm(term uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	return nil
}

func (s *MemStableStore) GetVotedFor() (types.NodeID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votedFor, s.hasVote, nil
}

func (s *MemStableStore) SetVotedFor(id types.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votedFor = id
	s.hasVote = true
	return nil
}

func (s *MemStableStore) ClearVotedFor() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votedFor = ""
	s.hasVote = false
	return nil
}

// MemLogStore is an in-memory LogStore. Index 0 is a dummy sentinel.
type MemLogStore struct {
	mu      sync.Mutex
	entries []LogEntry // entries[0] is sentinel
}

func NewMemLogStore() *MemLogStore {
	return &MemLogStore{
		entries: []LogEntry{{}},
	}
}

func (s *MemLogStore) LastIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.entries) - 1), nil
}

func (s *MemLogStore) TermAt(index uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == 0 || int(index) >= len(s.entries) {
		return 0, fmt.Errorf("index %d out of range [1, %d]", index, len(s.entries)-1)
	}
	return s.entries[index].Term, nil
}

func (s *MemLogStore) Append(entries []LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemLogStore) ReadRange(lo, hi uint64) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lo < 1 || hi >= uint64(len(s.entries)) || lo > hi {
		return nil, fmt.Errorf("invalid range [%d, %d], log length %d", lo, hi, len(s.entries)-1)
	}
	result := make([]LogEntry, hi-lo+1)
	copy(result, s.entries[lo:hi+1])
	return result, nil
}

func (s *MemLogStore) DeleteFrom(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 1 || int(index) >= len(s.entries) {
		return fmt.Errorf("index %d out of range [1, %d]", index, len(s.entries)-1)
	}
	s.entries = s.entries[:index]
	return nil
}
