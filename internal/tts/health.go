package tts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthCheckerConfig tunes the background probe loop.
type HealthCheckerConfig struct {
	Interval     time.Duration `json:"interval"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
}

// DefaultHealthCheckerConfig returns sensible defaults
func DefaultHealthCheckerConfig() *HealthCheckerConfig {
	return &HealthCheckerConfig{
		Interval:     30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// HealthChecker probes every registered provider on a fixed interval,
// independent of request traffic. Probe results only touch registry state;
// failures are never surfaced to request handling.
type HealthChecker struct {
	registry *Registry
	cfg      *HealthCheckerConfig
	logger   zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthChecker creates a checker bound to a registry.
func NewHealthChecker(registry *Registry, cfg *HealthCheckerConfig, logger zerolog.Logger) *HealthChecker {
	if cfg == nil {
		cfg = DefaultHealthCheckerConfig()
	}
	return &HealthChecker{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With().Str("component", "tts-health").Logger(),
	}
}

// Start launches the probe loop. An immediate first pass runs before the
// ticker so freshly registered providers leave the "unknown" state quickly.
func (h *HealthChecker) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		h.checkAll(ctx)

		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.checkAll(ctx)
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (h *HealthChecker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// checkAll probes providers concurrently so one hung backend cannot delay the
// others past its own probe timeout.
func (h *HealthChecker) checkAll(ctx context.Context) {
	h.registry.mu.Lock()
	entries := make([]*providerEntry, len(h.registry.entries))
	copy(entries, h.registry.entries)
	h.registry.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e *providerEntry) {
			defer wg.Done()
			h.probe(ctx, e)
		}(entry)
	}
	wg.Wait()
}

// probe runs one health check and applies the promotion/demotion rules: a
// passing probe speculatively promotes even an unavailable provider back to
// healthy, a failing probe feeds the same sliding-window demotion used by
// Execute.
func (h *HealthChecker) probe(ctx context.Context, entry *providerEntry) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	err := entry.provider.HealthCheck(probeCtx)
	cancel()

	entry.lastChecked.Store(time.Now().UnixNano())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.Debug().
			Str("provider", entry.desc.Name).
			Err(err).
			Msg("Health probe failed")
		h.registry.markDegraded(entry, err)
		return
	}

	h.registry.markHealthy(entry)
}
