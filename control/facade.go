// File: control/facade.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Facade composes ConfigStore, MetricsRegistry and DebugProbes behind the
// single api.Control surface external tooling (an admin HTTP handler, a
// hot-reload watcher) is expected to depend on, instead of reaching into
// three separate concrete types.

package control

import "github.com/momentics/dynpool/api"

// Facade implements api.Control over this package's three stores.
type Facade struct {
	cfg     *ConfigStore
	metrics *MetricsRegistry
	debug   *DebugProbes
}

var _ api.Control = (*Facade)(nil)

// NewFacade assembles a Facade over already-constructed stores.
func NewFacade(cfg *ConfigStore, metrics *MetricsRegistry, debug *DebugProbes) *Facade {
	return &Facade{cfg: cfg, metrics: metrics, debug: debug}
}

func (f *Facade) GetConfig() map[string]any { return f.cfg.GetSnapshot() }

func (f *Facade) SetConfig(cfg map[string]any) error {
	f.cfg.SetConfig(cfg)
	return nil
}

func (f *Facade) Stats() map[string]any { return f.metrics.GetSnapshot() }

func (f *Facade) OnReload(fn func()) { f.cfg.OnReload(fn) }

func (f *Facade) RegisterDebugProbe(name string, fn func() any) { f.debug.RegisterProbe(name, fn) }
