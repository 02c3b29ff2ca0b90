// File: dynpool/config.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dynpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/dynpool/api"
	"github.com/momentics/dynpool/control"
	"github.com/momentics/dynpool/internal/concurrency"
)

// DefaultMaxNestingDepth is the built-in nesting cap; the spec requires
// an implementation-defined bound of at least 16.
const DefaultMaxNestingDepth = 32

// Config holds process-wide tunables for the shared pool that every
// Group multiplexes onto. Each Configure call replaces the process-wide
// Config: groups and I/O-aware items constructed afterward, and workers
// spawned afterward, observe the new values; existing ones keep theirs.
type Config struct {
	// MaxNestingDepth bounds recursive group submission; 0 uses the default.
	MaxNestingDepth int

	// NUMANode pins spawned workers to a NUMA node; negative disables pinning.
	NUMANode int

	// IOAwarePacingCeiling bounds the delay the I/O-aware variant may add
	// to a single next() call; zero uses DefaultPacingCeiling.
	IOAwarePacingCeiling time.Duration

	// WorkerCapacityMultiplier bounds how many workers the shared pool may
	// spawn, as a multiple of runtime.NumCPU(); zero leaves the pool's
	// current capacity unchanged (initially the built-in default, see
	// internal/concurrency.defaultWorkerCapMultiplier).
	WorkerCapacityMultiplier int
}

// GroupOption customizes a single Group at construction.
type GroupOption func(*groupOptions)

type groupOptions struct {
	maxNestingDepth int
}

// WithMaxNestingDepth overrides the process-wide nesting cap for one group.
func WithMaxNestingDepth(depth int) GroupOption {
	return func(o *groupOptions) { o.maxNestingDepth = depth }
}

var (
	cfgMu         sync.Mutex
	globalCfg     = Config{MaxNestingDepth: DefaultMaxNestingDepth, NUMANode: -1, IOAwarePacingCeiling: DefaultPacingCeiling}
	configStore   = control.NewConfigStore()
	metrics       = control.NewMetricsRegistry()
	debugProbes   = control.NewDebugProbes()
	controlFacade = control.NewFacade(configStore, metrics, debugProbes)
	probesOnce    sync.Once

	groupsCreated   atomic.Int64
	groupsCompleted atomic.Int64
)

// Configure applies process-wide pool tunables. Safe to call at any time;
// subsequent Groups and newly spawned workers observe the change. An
// invalid NUMA node or worker-capacity multiplier is rejected and leaves
// the previously applied configuration in effect.
func Configure(cfg Config) error {
	if cfg.MaxNestingDepth <= 0 {
		cfg.MaxNestingDepth = DefaultMaxNestingDepth
	}
	if cfg.IOAwarePacingCeiling <= 0 {
		cfg.IOAwarePacingCeiling = DefaultPacingCeiling
	}

	// Validate the multiplier before applying anything, so a rejected
	// Configure leaves the NUMA node untouched too.
	if cfg.WorkerCapacityMultiplier < 0 {
		return concurrency.ErrInvalidWorkerCount
	}
	if err := pool().SetNUMANode(cfg.NUMANode); err != nil {
		return err
	}
	if cfg.WorkerCapacityMultiplier != 0 {
		if err := pool().SetCapacity(cfg.WorkerCapacityMultiplier); err != nil {
			return err
		}
	}

	cfgMu.Lock()
	globalCfg = cfg
	cfgMu.Unlock()

	configStore.SetConfig(map[string]any{
		"max_nesting_depth":          cfg.MaxNestingDepth,
		"numa_node":                  cfg.NUMANode,
		"io_aware_pacing_ceiling":    cfg.IOAwarePacingCeiling.String(),
		"worker_capacity_multiplier": cfg.WorkerCapacityMultiplier,
	})
	// configStore dispatches its own per-listener reload callbacks above;
	// control/hotreload.go's package-level hooks are a separate mechanism
	// (e.g. external components that registered via RegisterReloadHook
	// rather than ConfigStore.OnReload) and must be driven independently.
	control.TriggerHotReloadSync()
	return nil
}

func currentConfig() Config {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	return globalCfg
}

// registerProbes wires the pool's live snapshot into the shared debug
// probe registry once, on first use.
func registerProbes() {
	probesOnce.Do(func() {
		control.RegisterPlatformProbes(debugProbes)
		debugProbes.RegisterProbe("dynpool.pool", func() any {
			s := pool().Stats()
			ready := pool().ReadyIdentities()
			return map[string]any{
				"workers":     s.Workers,
				"ready_len":   s.ReadyLen,
				"ready_batch": ready.Len(),
				"timer_len":   s.TimerLen,
				"generation":  s.Generation,
				"enrolled":    s.Enrolled,
				"retired":     s.Retired,
				"started_at":  s.StartedAt,
			}
		})
	})
}

// reportMetrics pushes a group lifecycle transition into the process-wide
// metrics registry; called from NewGroup and Group.retireOne.
func reportMetrics() {
	metrics.Set("dynpool.groups.created", groupsCreated.Load())
	metrics.Set("dynpool.groups.completed", groupsCompleted.Load())
}

// Metrics exposes the process-wide metrics registry every Group reports
// into (see reportMetrics).
func Metrics() *control.MetricsRegistry { return metrics }

// DebugProbes exposes the process-wide debug probe registry, preloaded
// with a "dynpool.pool" probe reporting the shared pool's live snapshot.
func DebugProbes() *control.DebugProbes {
	registerProbes()
	return debugProbes
}

// ConfigStore exposes the process-wide config store Configure writes
// through, for callers wiring external hot-reload triggers.
func ConfigStore() *control.ConfigStore { return configStore }

// Control exposes the process-wide config/metrics/debug surface through
// the single api.Control contract, for hosts that want one handle to
// wire into an admin endpoint instead of three.
func Control() api.Control {
	registerProbes()
	return controlFacade
}
