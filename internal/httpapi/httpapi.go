// Package httpapi exposes the cluster service over HTTP with JSON
// bodies. Request validation happens here; handlers translate into the
// typed operations of the cluster package.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clustersim/clusterd/internal/cluster"
	"github.com/clustersim/clusterd/internal/raft"
	"github.com/clustersim/clusterd/internal/raft/transporthttp"
	"github.com/clustersim/clusterd/internal/registry"
	"github.com/clustersim/clusterd/internal/types"
)

// Server serves the HTTP API backed by the cluster service.
type Server struct {
	svc *cluster.Service
}

// New creates the HTTP API server.
func New(svc *cluster.Service) *Server {
	return &Server{svc: svc}
}

// Handler returns the router with all endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Get("/status", s.Status)

	r.Post("/register", s.RegisterNode)
	r.Post("/heartbeat", s.Heartbeat)
	r.Get("/nodes", s.ListNodes)
	r.Post("/nodes/{id}/fail", s.FailNode)
	r.Post("/nodes/{id}/recover", s.RecoverNode)

	r.Post("/vote", s.Vote)
	r.Post("/append", s.Append)
	r.Get("/log", s.Log)

	r.Post("/pods", s.LaunchPod)
	r.Get("/pods", s.ListPods)

	return r
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID      types.NodeID `json:"id"`
		Address string       `json:"address"`
		CPU     int          `json:"cpu"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if body.Address == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "address is required")
		return
	}
	node, err := s.svc.Register(r.Context(), body.ID, body.Address, body.CPU)
	if err != nil {
		s.writeProposeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": node})
}

func (s *Server) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID types.NodeID `json:"id"`
		// Timestamp is unix seconds; zero means "now".
		Timestamp float64 `json:"timestamp"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "id is required")
		return
	}
	ts := time.Now()
	if body.Timestamp != 0 {
		sec := int64(body.Timestamp)
		ts = time.Unix(sec, int64((body.Timestamp-float64(sec))*1e9))
	}
	if err := s.svc.Heartbeat(body.ID, ts); err != nil {
		if errors.Is(err, registry.ErrUnknownNode) {
			writeError(w, http.StatusNotFound, "unknown_node", "node "+string(body.ID)+" is not registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "heartbeat received"})
}

func (s *Server) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := []types.Node{}
	for n := range s.svc.Nodes() {
		nodes = append(nodes, n)
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) FailNode(w http.ResponseWriter, r *http.Request) {
	s.nodeOverride(w, r, s.svc.FailNode)
}

func (s *Server) RecoverNode(w http.ResponseWriter, r *http.Request) {
	s.nodeOverride(w, r, s.svc.RecoverNode)
}

func (s *Server) nodeOverride(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id types.NodeID) (types.ApplyResult, error)) {

	id := types.NodeID(chi.URLParam(r, "id"))
	res, err := op(r.Context(), id)
	if err != nil {
		s.writeProposeError(w, err)
		return
	}
	if !res.Ok {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) Vote(w http.ResponseWriter, r *http.Request) {
	var req transporthttp.VoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if req.CandidateID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate_id is required")
		return
	}
	resp, err := s.svc.Vote(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) Append(w http.ResponseWriter, r *http.Request) {
	var req transporthttp.AppendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if req.LeaderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "leader_id is required")
		return
	}
	resp, err := s.svc.Append(r.Context(), req)
	switch {
	case errors.Is(err, raft.ErrStaleTerm):
		// The body still carries the receiver's term so the stale
		// leader can step down.
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, raft.ErrLogGap):
		writeJSON(w, http.StatusOK, resp)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) Log(w http.ResponseWriter, r *http.Request) {
	from := uint64(1)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "from must be a positive integer")
			return
		}
		from = parsed
	}
	writeJSON(w, http.StatusOK, s.svc.CommittedLog(from))
}

func (s *Server) LaunchPod(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PodID    string         `json:"pod_id"`
		CPU      int            `json:"cpu"`
		Strategy types.Strategy `json:"strategy"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if body.PodID == "" || body.CPU <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "pod_id and positive cpu are required")
		return
	}
	if body.Strategy != "" && !body.Strategy.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown strategy "+string(body.Strategy))
		return
	}
	res, err := s.svc.LaunchPod(r.Context(), body.PodID, body.CPU, body.Strategy)
	if err != nil {
		s.writeProposeError(w, err)
		return
	}
	if !res.Ok {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) ListPods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Pods())
}

// writeProposeError maps proposal failures: role violations carry the
// current leader hint so clients can retry against the leader.
func (s *Server) writeProposeError(w http.ResponseWriter, err error) {
	if errors.Is(err, raft.ErrNotLeader) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":          false,
			"err_code":    "not_leader",
			"leader_hint": s.svc.LeaderHint(),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

// --- JSON helpers ---

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ApplyResult{Ok: false, ErrCode: code, ErrMsg: msg})
}
