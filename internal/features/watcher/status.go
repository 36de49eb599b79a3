package watcher

import (
	"context"
	"time"

	"kol-monitor/internal/features/rpc_pool"
)

// LivenessSource is the part of the pool the status reporter reads.
type LivenessSource interface {
	ProbeLiveness(ctx context.Context) (rpc_pool.Endpoint, error)
	Current() rpc_pool.Endpoint
}

// MonitorCounter reports how many monitors are running.
type MonitorCounter interface {
	Active() int
}

// Status is a point-in-time view of pool health and monitors.
type Status struct {
	Reachable           bool
	ReachableEndpoint   rpc_pool.Endpoint
	CurrentEndpoint     rpc_pool.Endpoint
	ActiveMonitors      int
	ConfiguredAddresses int
	ProbeError          error
	CheckedAt           time.Time
}

// StatusReporter builds a fresh Status on every call; nothing is cached.
type StatusReporter struct {
	pool       LivenessSource
	monitors   MonitorCounter
	configured int
	recorder   Recorder
}

func NewStatusReporter(pool LivenessSource, monitors MonitorCounter, configuredAddresses int, recorder Recorder) *StatusReporter {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &StatusReporter{
		pool:       pool,
		monitors:   monitors,
		configured: configuredAddresses,
		recorder:   recorder,
	}
}

// Snapshot probes the pool, then reads the cursor and monitor count.
// A failed probe is reported in the Status, never returned as an error.
func (r *StatusReporter) Snapshot(ctx context.Context) Status {
	endpoint, err := r.pool.ProbeLiveness(ctx)
	r.recorder.Probed(err == nil)

	return Status{
		Reachable:           err == nil,
		ReachableEndpoint:   endpoint,
		CurrentEndpoint:     r.pool.Current(),
		ActiveMonitors:      r.monitors.Active(),
		ConfiguredAddresses: r.configured,
		ProbeError:          err,
		CheckedAt:           time.Now(),
	}
}
