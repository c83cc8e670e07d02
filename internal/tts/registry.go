package tts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RegistryConfig tunes fallback execution and health bookkeeping.
type RegistryConfig struct {
	// CallTimeout bounds each individual provider call. The orchestrator
	// never waits indefinitely on a single adapter.
	CallTimeout time.Duration `json:"call_timeout"`
	// DemoteThreshold is the number of consecutive failures inside
	// FailureWindow after which a provider is marked unavailable.
	DemoteThreshold int `json:"demote_threshold"`
	// FailureWindow is the sliding window for the demotion rule.
	FailureWindow time.Duration `json:"failure_window"`
}

// DefaultRegistryConfig returns sensible defaults
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		CallTimeout:     10 * time.Second,
		DemoteThreshold: 3,
		FailureWindow:   2 * time.Minute,
	}
}

// providerEntry pairs a provider with its mutable health state. Health fields
// use atomics so unrelated requests never serialize against each other.
type providerEntry struct {
	provider Provider
	desc     Descriptor

	health      atomic.Int32 // HealthStatus
	fails       atomic.Int32 // consecutive failures
	windowStart atomic.Int64 // unix nano, start of the current failure window
	lastChecked atomic.Int64 // unix nano
}

func (e *providerEntry) status() HealthStatus {
	return HealthStatus(e.health.Load())
}

// FallbackChain is an immutable ordered list of providers for one locale.
// Chains are never mutated in place; the registry swaps whole snapshots.
type FallbackChain struct {
	Locale  string
	entries []*providerEntry
}

// Len returns the number of providers in the chain.
func (c *FallbackChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Providers returns the descriptor view of the chain in try-order.
func (c *FallbackChain) Providers() []Descriptor {
	if c == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.desc)
	}
	return out
}

// Registry ranks providers into per-locale fallback chains and executes
// requests against them with retry/skip semantics.
type Registry struct {
	logger zerolog.Logger
	cfg    *RegistryConfig

	mu      sync.Mutex // guards registration and snapshot rebuilds
	entries []*providerEntry

	// chains holds map[string]*FallbackChain keyed by locale prefix,
	// replaced atomically so concurrent readers never observe a half-built
	// chain.
	chains atomic.Value
}

// credentialed is implemented by adapters that require an API key.
type credentialed interface {
	HasCredential() bool
}

// NewRegistry creates an empty provider registry.
func NewRegistry(cfg *RegistryConfig, logger zerolog.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultRegistryConfig()
	}
	r := &Registry{
		logger: logger.With().Str("component", "tts-registry").Logger(),
		cfg:    cfg,
	}
	r.chains.Store(map[string]*FallbackChain{})
	return r
}

// Register adds a provider and rebuilds the chain snapshot. Registering a
// provider with the name of an existing one replaces it with fresh health
// state, so re-registration after a config reload is safe. Adapters with a
// missing credential are registered (so health checks can later pick them up
// if a key appears via config reload) but excluded from active chains.
func (r *Registry) Register(p Provider) {
	entry := &providerEntry{provider: p, desc: p.Descriptor()}
	entry.health.Store(int32(HealthUnknown))

	r.mu.Lock()
	replaced := false
	for i, existing := range r.entries {
		if existing.desc.Name == entry.desc.Name {
			r.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		r.entries = append(r.entries, entry)
	}
	r.rebuildLocked()
	r.mu.Unlock()

	r.logger.Info().
		Str("provider", entry.desc.Name).
		Str("cost", entry.desc.Cost.String()).
		Int("priority", entry.desc.Priority).
		Msg("Provider registered")
}

// Resolve returns the fallback chain for a locale. It is a pure read against
// the current snapshot.
func (r *Registry) Resolve(locale string) *FallbackChain {
	chains := r.chains.Load().(map[string]*FallbackChain)
	key := localeKey(locale)
	if c, ok := chains[key]; ok {
		return c
	}
	return nil
}

// Execute walks the fallback chain for the request's locale. Providers that
// fail are marked degraded and skipped; the first success resets the provider
// to healthy and wins. Exhausting the chain yields AllProvidersFailedError
// with per-provider reasons.
func (r *Registry) Execute(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error) {
	chain := r.Resolve(req.Locale)
	if chain.Len() == 0 {
		return nil, &NoProviderAvailableError{Locale: req.Locale}
	}

	var attempts []Attempt
	for _, entry := range chain.entries {
		if entry.status() == HealthUnavailable {
			// Demoted since the snapshot was built. Skip without counting an
			// attempt against it.
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		result, err := entry.provider.Synthesize(callCtx, req)
		cancel()

		if err == nil {
			r.markHealthy(entry)
			return result, nil
		}

		attempts = append(attempts, Attempt{Provider: entry.desc.Name, Err: err})
		r.markDegraded(entry, err)

		if ctx.Err() != nil {
			// The request-level deadline expired; stop walking the chain.
			break
		}
	}

	if len(attempts) == 0 {
		return nil, &NoProviderAvailableError{Locale: req.Locale}
	}
	return nil, &AllProvidersFailedError{Locale: req.Locale, Attempts: attempts}
}

// markHealthy resets failure counters and promotes the provider. A chain
// rebuild only happens on an actual status transition.
func (r *Registry) markHealthy(entry *providerEntry) {
	entry.fails.Store(0)
	prev := entry.health.Swap(int32(HealthHealthy))
	if HealthStatus(prev) == HealthHealthy {
		return
	}
	r.logger.Info().
		Str("provider", entry.desc.Name).
		Str("from", HealthStatus(prev).String()).
		Msg("Provider healthy")
	if HealthStatus(prev) == HealthUnavailable {
		r.rebuild()
	}
}

// markDegraded records a failure and degrades the provider. Re-marking an
// already-degraded provider is a data-level no-op and is not logged again.
// Enough consecutive failures inside the sliding window demote the provider
// to unavailable, removing it from active chains until a health check
// restores it.
func (r *Registry) markDegraded(entry *providerEntry, cause error) {
	now := time.Now().UnixNano()
	windowStart := entry.windowStart.Load()
	if windowStart == 0 || now-windowStart > int64(r.cfg.FailureWindow) {
		// Window elapsed; this failure starts a fresh one.
		entry.windowStart.Store(now)
		entry.fails.Store(1)
	} else {
		entry.fails.Add(1)
	}

	if entry.health.CompareAndSwap(int32(HealthHealthy), int32(HealthDegraded)) ||
		entry.health.CompareAndSwap(int32(HealthUnknown), int32(HealthDegraded)) {
		r.logger.Warn().
			Str("provider", entry.desc.Name).
			Err(cause).
			Msg("Provider degraded")
	}

	if int(entry.fails.Load()) >= r.cfg.DemoteThreshold {
		if entry.health.CompareAndSwap(int32(HealthDegraded), int32(HealthUnavailable)) {
			r.logger.Warn().
				Str("provider", entry.desc.Name).
				Int32("consecutiveFailures", entry.fails.Load()).
				Msg("Provider unavailable, removed from fallback chains")
			r.rebuild()
		}
	}
}

// Snapshot reports the current descriptor and health of every registered
// provider, for the health endpoint and logs.
type ProviderHealth struct {
	Descriptor  Descriptor   `json:"descriptor"`
	Status      HealthStatus `json:"-"`
	StatusName  string       `json:"status"`
	LastChecked time.Time    `json:"last_checked,omitempty"`
}

func (r *Registry) Snapshot() []ProviderHealth {
	r.mu.Lock()
	entries := make([]*providerEntry, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()

	out := make([]ProviderHealth, 0, len(entries))
	for _, e := range entries {
		h := ProviderHealth{
			Descriptor: e.desc,
			Status:     e.status(),
			StatusName: e.status().String(),
		}
		if ns := e.lastChecked.Load(); ns != 0 {
			h.LastChecked = time.Unix(0, ns)
		}
		out = append(out, h)
	}
	return out
}

// Rebuild regenerates the chain snapshot, e.g. after a config reload made new
// credentials visible.
func (r *Registry) Rebuild() {
	r.rebuild()
}

func (r *Registry) rebuild() {
	r.mu.Lock()
	r.rebuildLocked()
	r.mu.Unlock()
}

// rebuildLocked builds a fresh locale → chain map and swaps it in whole.
// Caller must hold r.mu.
func (r *Registry) rebuildLocked() {
	eligible := make([]*providerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.status() == HealthUnavailable {
			continue
		}
		if c, ok := e.provider.(credentialed); ok && !c.HasCredential() {
			continue
		}
		eligible = append(eligible, e)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].desc.Cost != eligible[j].desc.Cost {
			return eligible[i].desc.Cost < eligible[j].desc.Cost
		}
		return eligible[i].desc.Priority < eligible[j].desc.Priority
	})

	chains := make(map[string]*FallbackChain)
	for _, e := range eligible {
		for _, locale := range e.desc.Locales {
			key := localeKey(locale)
			chain, ok := chains[key]
			if !ok {
				chain = &FallbackChain{Locale: key}
				chains[key] = chain
			}
			chain.entries = append(chain.entries, e)
		}
	}

	r.chains.Store(chains)
}

// localeKey reduces "ko-KR" / "ko_KR" to the "ko" chain key.
func localeKey(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		return locale[:i]
	}
	return locale
}
