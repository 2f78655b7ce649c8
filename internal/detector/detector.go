// Package detector sweeps the registry on a fixed period and assigns
// liveness states from heartbeat age. It is the only writer of the
// suspect and dead states.
package detector

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/clustersim/clusterd/internal/config"
	"github.com/clustersim/clusterd/internal/registry"
	"github.com/clustersim/clusterd/internal/types"
)

// Event is a liveness state change observed by the sweep.
type Event struct {
	NodeID types.NodeID
	From   types.NodeState
	To     types.NodeState
}

// Detector periodically evaluates node liveness. State changes are
// published on Events for the election coordinator.
type Detector struct {
	cfg    config.DetectorConfig
	reg    *registry.Registry
	events chan Event
	logger hclog.Logger
}

// New creates a detector. The configuration must already be validated.
func New(cfg config.DetectorConfig, reg *registry.Registry, logger hclog.Logger) *Detector {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Detector{
		cfg:    cfg,
		reg:    reg,
		events: make(chan Event, 64),
		logger: logger.Named("detector"),
	}
}

// Events returns the state-change event stream.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Run sweeps on the configured period until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Sweep(now)
		}
	}
}

// Sweep evaluates every node once against the thresholds at time now.
// Exported so tests can drive the clock directly.
func (d *Detector) Sweep(now time.Time) {
	for n := range d.reg.List() {
		age := now.Sub(n.LastHeartbeat)
		switch n.State {
		case types.StateAlive:
			if age > d.cfg.SuspectThreshold {
				d.transition(n.ID, types.StateSuspect, now)
			}
		case types.StateSuspect:
			if age > d.cfg.DeadThreshold {
				d.transition(n.ID, types.StateDead, now)
			} else if age <= d.cfg.SuspectThreshold {
				d.transition(n.ID, types.StateAlive, now)
			}
		case types.StateDead:
			if since, ok := d.reg.DeadSince(n.ID); ok && now.Sub(since) > d.cfg.DeadRetention {
				d.reg.Evict(n.ID)
			}
		}
	}
}

func (d *Detector) transition(id types.NodeID, to types.NodeState, now time.Time) {
	from, ok := d.reg.SetState(id, to, now)
	if !ok || from == to {
		return
	}
	if to == types.StateDead {
		d.logger.Warn("node failed", "id", id)
	} else {
		d.logger.Info("liveness change", "id", id, "from", from, "to", to)
	}
	select {
	case d.events <- Event{NodeID: id, From: from, To: to}:
	default:
		d.logger.Warn("event channel full, dropping", "id", id, "to", to)
	}
}
