package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clustersim/clusterd/internal/cluster"
	"github.com/clustersim/clusterd/internal/config"
	"github.com/clustersim/clusterd/internal/detector"
	"github.com/clustersim/clusterd/internal/raft"
	"github.com/clustersim/clusterd/internal/raft/storage"
	"github.com/clustersim/clusterd/internal/raft/transporthttp"
	"github.com/clustersim/clusterd/internal/registry"
	"github.com/clustersim/clusterd/internal/scheduler"
	"github.com/clustersim/clusterd/internal/types"
)

// newTestServer spins up a complete single-member service; with no
// peers the node elects itself leader almost immediately.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.ID = "n1"
	cfg.Addr = "http://n1:5001"
	cfg.RescheduleInterval = 50 * time.Millisecond
	cfg.Timing = config.TimingConfig{
		ElectionTimeoutMin: 20 * time.Millisecond,
		ElectionTimeoutMax: 40 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
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

	svc := cluster.New(cfg, reg, det, node, sm, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })

	// Wait for self-election so writes are accepted.
	deadline := time.Now().Add(2 * time.Second)
	for !svc.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("node never became leader")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ts := httptest.NewServer(New(svc).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRegisterAndListNodes(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/register", map[string]any{
		"id": "w1", "address": "worker1:9000", "cpu": 8,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register returned %d", resp.StatusCode)
	}
	body := decodeBody[map[string]types.Node](t, resp)
	if body["node"].ID != "w1" || body["node"].State != types.StateAlive {
		t.Fatalf("unexpected node: %+v", body["node"])
	}

	// Listing includes the serving node itself alongside the worker.
	resp, err := http.Get(ts.URL + "/nodes")
	if err != nil {
		t.Fatal(err)
	}
	nodes := decodeBody[[]types.Node](t, resp)
	ids := make(map[types.NodeID]bool)
	for _, n := range nodes {
		ids[n.ID] = true
	}
	if len(nodes) != 2 || !ids["w1"] || !ids["n1"] {
		t.Fatalf("unexpected node list: %+v", nodes)
	}
}

func TestRegister_NotLeaderReturns409(t *testing.T) {
	// A node with unreachable peers never wins an election, so writes
	// are rejected with the not_leader conflict.
	cfg := config.Default()
	cfg.ID = "n1"
	cfg.Addr = "http://n1:5001"

	reg := registry.New(nil)
	det := detector.New(cfg.Detector, reg, nil)
	sm := scheduler.New(nil)
	node, err := raft.NewNode(raft.Config{
		ID:    cfg.ID,
		Addr:  cfg.Addr,
		Peers: []types.NodeID{"n2", "n3"},
	}, storage.NewMemStableStore(), storage.NewMemLogStore(), nil, sm, reg, det.Events(), nil)
	if err != nil {
		t.Fatal(err)
	}
	svc := cluster.New(cfg, reg, det, node, sm, nil)

	ts := httptest.NewServer(New(svc).Handler())
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/register", map[string]any{
		"id": "w1", "address": "worker1:9000", "cpu": 8,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	res := decodeBody[types.ApplyResult](t, resp)
	if res.ErrCode != "not_leader" {
		t.Fatalf("expected not_leader, got %+v", res)
	}

	// The node list stays clean; nothing was half-registered.
	listResp, err := http.Get(ts.URL + "/nodes")
	if err != nil {
		t.Fatal(err)
	}
	nodes := decodeBody[[]types.Node](t, listResp)
	if len(nodes) != 0 {
		t.Fatalf("expected empty node list, got %+v", nodes)
	}
}

func TestRegister_MissingAddress(t *testing.T) {
	ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/register", map[string]any{"id": "w1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHeartbeat_KnownAndUnknown(t *testing.T) {
	ts := newTestServer(t)

	postJSON(t, ts.URL+"/register", map[string]any{"id": "w1", "address": "a:1", "cpu": 4}).Body.Close()

	resp := postJSON(t, ts.URL+"/heartbeat", map[string]any{
		"id": "w1", "timestamp": float64(time.Now().Unix()),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/heartbeat", map[string]any{"id": "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown node, got %d", resp.StatusCode)
	}
	res := decodeBody[types.ApplyResult](t, resp)
	if res.ErrCode != "unknown_node" {
		t.Fatalf("expected unknown_node, got %+v", res)
	}
}

func TestVote_GrantAndDeny(t *testing.T) {
	ts := newTestServer(t)

	// A future term is granted.
	resp := postJSON(t, ts.URL+"/vote", map[string]any{"term": 100, "candidate_id": "c1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vote returned %d", resp.StatusCode)
	}
	vr := decodeBody[transporthttp.VoteResponse](t, resp)
	if !vr.Granted || vr.Term != 100 {
		t.Fatalf("expected grant at term 100, got %+v", vr)
	}

	// A differing candidate in the same term is denied.
	resp = postJSON(t, ts.URL+"/vote", map[string]any{"term": 100, "candidate_id": "c2"})
	vr = decodeBody[transporthttp.VoteResponse](t, resp)
	if vr.Granted {
		t.Fatal("second differing vote granted in same term")
	}
}

func TestAppend_StaleTermReturns409(t *testing.T) {
	ts := newTestServer(t)

	// Push the local term up.
	postJSON(t, ts.URL+"/vote", map[string]any{"term": 50, "candidate_id": "c1"}).Body.Close()

	resp := postJSON(t, ts.URL+"/append", map[string]any{"term": 1, "leader_id": "old"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	// The node may have started its own election since the vote, so the
	// term can only have grown.
	ar := decodeBody[transporthttp.AppendResponse](t, resp)
	if ar.Success || ar.Term < 50 {
		t.Fatalf("unexpected stale-term body: %+v", ar)
	}
}

func TestLaunchPodAndLog(t *testing.T) {
	ts := newTestServer(t)

	postJSON(t, ts.URL+"/register", map[string]any{"id": "w1", "address": "a:1", "cpu": 8}).Body.Close()

	resp := postJSON(t, ts.URL+"/pods", map[string]any{"pod_id": "p1", "cpu": 4, "strategy": "best_fit"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("launch returned %d", resp.StatusCode)
	}
	res := decodeBody[types.ApplyResult](t, resp)
	if !res.Ok || res.NodeID != "w1" {
		t.Fatalf("unexpected placement: %+v", res)
	}

	// Committed log shows the register proposal and the launch.
	resp, err := http.Get(ts.URL + "/log")
	if err != nil {
		t.Fatal(err)
	}
	entries := decodeBody[[]storage.LogEntry](t, resp)
	if len(entries) != 2 {
		t.Fatalf("expected 2 committed entries, got %d", len(entries))
	}
	if entries[0].Cmd.Op != types.OpAddNode || entries[1].Cmd.Op != types.OpLaunchPod {
		t.Fatalf("unexpected log contents: %+v", entries)
	}
	if entries[0].Index != 1 || entries[1].Index != 2 {
		t.Fatalf("indexes not gapless: %+v", entries)
	}

	// Pods listing reflects the placement.
	resp, err = http.Get(ts.URL + "/pods")
	if err != nil {
		t.Fatal(err)
	}
	pods := decodeBody[[]types.Pod](t, resp)
	if len(pods) != 1 || pods[0].Status != types.PodRunning || pods[0].NodeID != "w1" {
		t.Fatalf("unexpected pods: %+v", pods)
	}
}

func TestLaunchPod_Validation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/pods", map[string]any{"pod_id": "", "cpu": 4})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing pod_id, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/pods", map[string]any{"pod_id": "p1", "cpu": 4, "strategy": "psychic_fit"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad strategy, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// No capacity registered at all.
	resp = postJSON(t, ts.URL+"/pods", map[string]any{"pod_id": "p1", "cpu": 4})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for insufficient capacity, got %d", resp.StatusCode)
	}
	res := decodeBody[types.ApplyResult](t, resp)
	if res.ErrCode != "insufficient_capacity" {
		t.Fatalf("expected insufficient_capacity, got %+v", res)
	}
}

func TestFailAndRecoverNode(t *testing.T) {
	ts := newTestServer(t)

	postJSON(t, ts.URL+"/register", map[string]any{"id": "w1", "address": "a:1", "cpu": 8}).Body.Close()
	postJSON(t, ts.URL+"/pods", map[string]any{"pod_id": "p1", "cpu": 4}).Body.Close()

	resp := postJSON(t, ts.URL+"/nodes/w1/fail", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fail returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The pod was released back to pending.
	resp, err := http.Get(ts.URL + "/pods")
	if err != nil {
		t.Fatal(err)
	}
	pods := decodeBody[[]types.Pod](t, resp)
	if pods[0].Status != types.PodPending {
		t.Fatalf("expected pending after node failure, got %+v", pods[0])
	}

	// Registry reflects the manual override.
	resp, err = http.Get(ts.URL + "/nodes")
	if err != nil {
		t.Fatal(err)
	}
	nodes := decodeBody[[]types.Node](t, resp)
	var w1 types.Node
	for _, n := range nodes {
		if n.ID == "w1" {
			w1 = n
		}
	}
	if w1.State != types.StateDead {
		t.Fatalf("expected w1 dead, got %+v", w1)
	}

	resp = postJSON(t, ts.URL+"/nodes/w1/recover", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recover returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The reschedule pass places the pod again.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/pods")
		if err != nil {
			t.Fatal(err)
		}
		pods = decodeBody[[]types.Pod](t, resp)
		if pods[0].Status == types.PodRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pod never rescheduled: %+v", pods[0])
		}
		time.Sleep(20 * time.Millisecond)
	}
	if pods[0].NodeID != "w1" {
		t.Fatalf("expected pod back on w1, got %+v", pods[0])
	}
}

func TestFailNode_Unknown(t *testing.T) {
	ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/nodes/ghost/fail", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	res := decodeBody[types.ApplyResult](t, resp)
	if res.ErrCode != "unknown_node" {
		t.Fatalf("expected unknown_node, got %+v", res)
	}
}

func TestStatusAndHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	st := decodeBody[types.NodeStatus](t, resp)
	if st.ID != "n1" || st.Role != raft.RoleLeader {
		t.Fatalf("unexpected status: %+v", st)
	}
}
