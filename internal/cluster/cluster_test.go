package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clustersim/clusterd/internal/config"
	"github.com/clustersim/clusterd/internal/detector"
	"github.com/clustersim/clusterd/internal/raft"
	"github.com/clustersim/clusterd/internal/raft/storage"
	"github.com/clustersim/clusterd/internal/registry"
	"github.com/clustersim/clusterd/internal/scheduler"
	"github.com/clustersim/clusterd/internal/types"
)

// newTestService builds a single-member service with in-memory stores.
// With no peers the node elects itself once started.
func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *registry.Registry) {
	t.Helper()

	cfg := config.Default()
	cfg.ID = "n1"
	cfg.Addr = "http://n1:5001"
	cfg.Timing = config.TimingConfig{
		ElectionTimeoutMin: 20 * time.Millisecond,
		ElectionTimeoutMax: 40 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	reg := registry.New(nil)
	det := detector.New(cfg.Detector, reg, nil)
	sm := scheduler.New(nil)
	node, err := raft.NewNode(raft.Config{
		ID:     cfg.ID,
		Addr:   cfg.Addr,
		Timing: cfg.Timing,
	}, storage.NewMemStableStore(), storage.NewMemLogStore(), nil, sm, reg, det.Events(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, reg, det, node, sm, nil), reg
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
}

func waitLeader(t *testing.T, svc *Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !svc.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("node never became leader")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// The node's own registry entry must outlive the detector thresholds:
// nobody else heartbeats on its behalf.
func TestStart_SelfEntryStaysAlive(t *testing.T) {
	svc, reg := newTestService(t, func(c *config.Config) {
		c.Detector = config.DetectorConfig{
			Period:           10 * time.Millisecond,
			SuspectThreshold: 40 * time.Millisecond,
			DeadThreshold:    120 * time.Millisecond,
			DeadRetention:    150 * time.Millisecond,
		}
	})
	startService(t, svc)

	// Well past dead threshold plus retention.
	time.Sleep(400 * time.Millisecond)

	n, ok := reg.Get("n1")
	if !ok {
		t.Fatal("self entry was evicted")
	}
	if n.State != types.StateAlive {
		t.Fatalf("expected self entry alive, got %s", n.State)
	}
}

// A follower must reject registration rather than accept a node whose
// capacity proposal is lost.
func TestRegister_FollowerRejects(t *testing.T) {
	svc, reg := newTestService(t, nil)
	// Not started: the node stays a follower.

	_, err := svc.Register(context.Background(), "w1", "worker1:9000", 8)
	if !errors.Is(err, raft.ErrNotLeader) {
		t.Fatalf("expected ErrNotLeader, got %v", err)
	}
	if _, ok := reg.Get("w1"); ok {
		t.Fatal("rejected registration must not reach the registry")
	}
}

// Capacity registered through the leader is visible to placement.
func TestRegister_CapacityReachesScheduler(t *testing.T) {
	svc, reg := newTestService(t, nil)
	startService(t, svc)
	waitLeader(t, svc)

	ctx := context.Background()
	n, err := svc.Register(ctx, "w1", "worker1:9000", 8)
	if err != nil {
		t.Fatal(err)
	}
	if n.ID != "w1" {
		t.Fatalf("unexpected node: %+v", n)
	}
	if _, ok := reg.Get("w1"); !ok {
		t.Fatal("registered node missing from registry")
	}

	res, err := svc.LaunchPod(ctx, "p1", 4, types.BestFit)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ok || res.NodeID != "w1" {
		t.Fatalf("expected placement on w1, got %+v", res)
	}
}

// A blank id gets a generated one before the proposal, so the same id
// lands in both the log and the registry.
func TestRegister_BlankIDGenerated(t *testing.T) {
	svc, reg := newTestService(t, nil)
	startService(t, svc)
	waitLeader(t, svc)

	n, err := svc.Register(context.Background(), "", "worker2:9000", 4)
	if err != nil {
		t.Fatal(err)
	}
	if n.ID == "" {
		t.Fatal("expected generated id")
	}
	if _, ok := reg.Get(n.ID); !ok {
		t.Fatal("generated node missing from registry")
	}
	entries := svc.CommittedLog(1)
	if len(entries) != 1 || entries[0].Cmd.NodeID != n.ID {
		t.Fatalf("log should carry the generated id, got %+v", entries)
	}
}
