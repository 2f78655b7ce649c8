// Package transporthttp carries election and replication RPCs between
// peers as JSON over HTTP. The server side of these RPCs lives in the
// httpapi package; this package owns the wire types and the client.
package transporthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/clustersim/clusterd/internal/raft/storage"
	"github.com/clustersim/clusterd/internal/types"
)

// ErrNetworkTimeout is returned when a peer call exceeds its deadline.
// Callers treat it as a failed call, never a hang.
var ErrNetworkTimeout = errors.New("network timeout")

// --- RPC DTOs ---

type VoteRequest struct {
	Term        uint64       `json:"term"`
	CandidateID types.NodeID `json:"candidate_id"`
}

type VoteResponse struct {
	Term    uint64 `json:"term"`
	Granted bool   `json:"granted"`
}

type AppendRequest struct {
	Term         uint64             `json:"term"`
	LeaderID     types.NodeID       `json:"leader_id"`
	LeaderAddr   string             `json:"leader_addr"`
	Entries      []storage.LogEntry `json:"entries,omitempty"`
	LeaderCommit uint64             `json:"leader_commit"`
}

type AppendResponse struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
	// MatchIndex is the follower's last log index. On rejection it is
	// where the leader should backfill from.
	MatchIndex uint64 `json:"match_index"`
}

// Transport is the interface the coordinator uses to reach peers.
type Transport interface {
	RequestVote(ctx context.Context, to types.NodeID, req VoteRequest) (VoteResponse, error)
	AppendEntries(ctx context.Context, to types.NodeID, req AppendRequest) (AppendResponse, error)
}

// PeerResolver maps NodeID to base URL.
type PeerResolver struct {
	peers map[types.NodeID]string
}

func NewPeerResolver(peers map[types.NodeID]string) *PeerResolver {
	return &PeerResolver{peers: peers}
}

func (r *PeerResolver) Resolve(id types.NodeID) (string, error) {
	addr, ok := r.peers[id]
	if !ok {
		return "", fmt.Errorf("unknown peer: %s", id)
	}
	return addr, nil
}

// HTTPTransport is the JSON-over-HTTP Transport.
type HTTPTransport struct {
	resolver *PeerResolver
	client   *http.Client
}

func NewHTTPTransport(resolver *PeerResolver) *HTTPTransport {
	return &HTTPTransport{
		resolver: resolver,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

func (t *HTTPTransport) RequestVote(ctx context.Context, to types.NodeID, req VoteRequest) (VoteResponse, error) {
	var resp VoteResponse
	if err := t.post(ctx, to, "/vote", req, &resp); err != nil {
		return VoteResponse{}, err
	}
	return resp, nil
}

func (t *HTTPTransport) AppendEntries(ctx context.Context, to types.NodeID, req AppendRequest) (AppendResponse, error) {
	var resp AppendResponse
	if err := t.post(ctx, to, "/append", req, &resp); err != nil {
		return AppendResponse{}, err
	}
	return resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, to types.NodeID, path string, req, resp any) error {
	addr, err := t.resolver.Resolve(to)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s%s", ErrNetworkTimeout, to, path)
		}
		return err
	}
	defer httpResp.Body.Close()

	// 409 carries a decodable stale-term response; the caller inspects
	// the term to decide whether to step down.
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusConflict {
		return fmt.Errorf("%s to %s returned %d", path, to, httpResp.StatusCode)
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
