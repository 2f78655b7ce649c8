package server

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/clustersim/clusterd/internal/cluster"
	"github.com/clustersim/clusterd/internal/config"
	"github.com/clustersim/clusterd/internal/detector"
	"github.com/clustersim/clusterd/internal/httpapi"
	"github.com/clustersim/clusterd/internal/raft"
	"github.com/clustersim/clusterd/internal/raft/storage"
	"github.com/clustersim/clusterd/internal/raft/transporthttp"
	"github.com/clustersim/clusterd/internal/registry"
	"github.com/clustersim/clusterd/internal/scheduler"
	"github.com/clustersim/clusterd/internal/types"
)

// Run wires together the server components and listens until the host
// terminates the process. Configuration failures are fatal; everything
// else recovers through timer-driven retries.
func Run() error {
	cfg := config.Default()

	port := flag.Int("port", cfg.Port, "HTTP listen port")
	nodeID := flag.String("id", "node1", "node id")
	addr := flag.String("addr", "", "advertised address (default http://localhost:<port>)")
	peersFlag := flag.String("peers", "", "comma-separated peer_id=addr pairs (e.g. node2=http://localhost:5002)")
	dbPath := flag.String("db", "cluster.db", "bolt database file; empty for in-memory only")
	strategy := flag.String("strategy", string(cfg.Strategy), "default scheduling strategy: first_fit, best_fit, worst_fit")
	suspectAfter := flag.Duration("suspect-after", cfg.Detector.SuspectThreshold, "heartbeat age before a node is suspect")
	deadAfter := flag.Duration("dead-after", cfg.Detector.DeadThreshold, "heartbeat age before a node is dead")
	deadRetention := flag.Duration("dead-retention", cfg.Detector.DeadRetention, "how long dead nodes stay listed")
	sweepEvery := flag.Duration("sweep-every", cfg.Detector.Period, "failure detector sweep period")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "clusterd",
		Level: hclog.Info,
	})

	cfg.ID = types.NodeID(*nodeID)
	cfg.Port = *port
	cfg.Addr = *addr
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf("http://localhost:%d", *port)
	}
	cfg.DBPath = *dbPath
	cfg.Strategy = types.Strategy(*strategy)
	cfg.Detector.SuspectThreshold = *suspectAfter
	cfg.Detector.DeadThreshold = *deadAfter
	cfg.Detector.DeadRetention = *deadRetention
	cfg.Detector.Period = *sweepEvery

	peerMap, peerIDs, err := parsePeers(*peersFlag)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	cfg.Peers = peerMap

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("starting", "id", cfg.ID, "port", cfg.Port, "peers", len(peerIDs), "strategy", cfg.Strategy)

	var stable storage.StableStore
	var logStore storage.LogStore
	if cfg.DBPath != "" {
		bs, err := storage.OpenBolt(cfg.DBPath)
		if err != nil {
			return err
		}
		defer bs.Close()
		stable, logStore = bs, bs
	} else {
		stable = storage.NewMemStableStore()
		logStore = storage.NewMemLogStore()
	}

	reg := registry.New(logger)
	det := detector.New(cfg.Detector, reg, logger)
	sm := scheduler.New(logger)

	tp := transporthttp.NewHTTPTransport(transporthttp.NewPeerResolver(peerMap))

	node, err := raft.NewNode(raft.Config{
		ID:     cfg.ID,
		Addr:   cfg.Addr,
		Peers:  peerIDs,
		Timing: cfg.Timing,
	}, stable, logStore, tp, sm, reg, det.Events(), logger)
	if err != nil {
		return err
	}

	svc := cluster.New(cfg, reg, det, node, sm, logger)
	api := httpapi.New(svc)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	}
}

func parsePeers(s string) (map[types.NodeID]string, []types.NodeID, error) {
	peerMap := make(map[types.NodeID]string)
	var ids []types.NodeID
	if s == "" {
		return peerMap, ids, nil
	}
	for _, p := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, nil, fmt.Errorf("invalid peer %q (expected id=addr)", p)
		}
		id := types.NodeID(parts[0])
		peerMap[id] = parts[1]
		ids = append(ids, id)
	}
	return peerMap, ids, nil
}
