package config

import "sync"

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. The worker's reload watcher and the orchestrator read
// through a shared Holder, so a config file change updates every consumer in
// one place.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path. No locking: the path never changes
// after construction.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config. Called by the worker's reload watcher after a
// successful re-load; filter and sync tunables take effect on the next run.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}
