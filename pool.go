// Package keyrot dispatches requests across a pool of credentials,
// rotating past whichever keys are rate limited, quota exhausted, or
// circuit broken so a caller sees one logical client instead of many
// individually fragile ones.
package keyrot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gblikas/keyrot/internal/health"
	"github.com/gblikas/keyrot/internal/queue"
	"github.com/gblikas/keyrot/internal/selector"
	"github.com/gblikas/keyrot/internal/storage"
)

// persistTimeout bounds how long a fire-and-forget quota persistence
// write may take before it's abandoned; persistence is best-effort and
// must never hold up a caller's request.
const persistTimeout = 2 * time.Second

// Pool dispatches requests of response type R across a set of
// credentials, retrying each request against a different key on
// rate-limit or error until one succeeds, the retry budget is spent, or
// every key is unavailable.
//
// A Pool's public methods are safe for concurrent use. Internally, a
// single dispatch worker goroutine drains the pending-request queue and
// runs each job's retry/rotation attempt to completion before picking up
// the next one; queue depth is therefore an exact count of requests
// waiting behind whichever one is currently in flight.
type Pool[R any] struct {
	cfg        Config
	classifier safeClassifier[R]
	hooks      safeHooks
	logger     zerolog.Logger
	store      Store

	keysMu sync.RWMutex
	keys   map[string]*KeyState
	order  []string

	sel *selector.Selector
	q   *queue.Queue[R]

	entriesMu sync.Mutex
	entries   map[string]jobEntry[R]

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	loopWG         sync.WaitGroup
	closed         atomic.Bool
}

type jobEntry[R any] struct {
	ctx context.Context
	fn  func(ctx context.Context, apiKey string) (R, error)
}

// NewPool constructs a Pool, registers its initial keys, loads any
// persisted quota usage for them, and starts the background dispatch
// worker. The returned Pool must eventually be closed with Shutdown.
func NewPool[R any](cfg Config, classifier Classifier[R]) (*Pool[R], error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	var log zerolog.Logger
	if cfg.Logger != nil {
		log = *cfg.Logger
	} else {
		log = zerolog.Nop()
	}

	store := cfg.Storage
	if store == nil {
		store = storage.NewMemory(log)
	}

	p := &Pool[R]{
		cfg:        cfg,
		classifier: safeClassifier[R]{c: classifier, log: &log},
		hooks:      safeHooks{h: cfg.Hooks, log: &log},
		logger:     log,
		store:      store,
		keys:       make(map[string]*KeyState),
		sel:        selector.New(),
		entries:    make(map[string]jobEntry[R]),
	}

	circuitCfg := cfg.circuitConfig()
	warn := cfg.warningThreshold()
	now := time.Now()
	for _, kc := range cfg.Keys {
		ks := newKeyState(kc, circuitCfg, warn, now)
		p.loadPersistedQuota(ks)
		p.keys[kc.ID] = ks
		p.order = append(p.order, kc.ID)
	}

	p.q = queue.New[R](cfg.MaxQueueSize, &p.logger)

	p.dispatchCtx, p.dispatchCancel = context.WithCancel(context.Background())
	p.loopWG.Add(1)
	go p.dispatchLoop()

	return p, nil
}

// loadPersistedQuota blocks until ks's persisted quota record, if any,
// has been loaded from the Pool's Store. NewPool calls it for each
// initial key before the dispatch loop starts, so the first requests see
// accurate usage; AddKey calls it right after registering a new key.
func (p *Pool[R]) loadPersistedQuota(ks *KeyState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, ok, err := p.store.Get(ctx, ks.storageKey())
	if err != nil {
		p.logger.Warn().Str("key_id", ks.cfg.ID).Err(err).Msg("failed to load persisted quota, starting fresh")
		return
	}
	if !ok {
		return
	}
	ks.loadQuota(raw)
}

// persistQuota writes ks's current quota usage to the Pool's Store in
// the calling goroutine; failures are logged and otherwise ignored, since
// quota accounting already lives authoritatively in memory.
func (p *Pool[R]) persistQuota(ks *KeyState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := p.store.Set(ctx, ks.storageKey(), ks.encodeQuota(), ks.quotaTTL()); err != nil {
		p.logger.Warn().Str("key_id", ks.cfg.ID).Err(err).Msg("failed to persist quota")
	}
}

func (p *Pool[R]) getKey(id string) *KeyState {
	p.keysMu.RLock()
	defer p.keysMu.RUnlock()
	return p.keys[id]
}

func (p *Pool[R]) keyCount() int {
	p.keysMu.RLock()
	defer p.keysMu.RUnlock()
	return len(p.order)
}

func (p *Pool[R]) keyViews(now time.Time) []selector.KeyView {
	p.keysMu.RLock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	keys := make([]*KeyState, len(ids))
	for i, id := range ids {
		keys[i] = p.keys[id]
	}
	p.keysMu.RUnlock()

	views := make([]selector.KeyView, len(keys))
	for i, ks := range keys {
		views[i] = ks.view(now)
	}
	return views
}

func (p *Pool[R]) keySnapshots(now time.Time) []health.KeySnapshot {
	p.keysMu.RLock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	keys := make([]*KeyState, len(ids))
	for i, id := range ids {
		keys[i] = p.keys[id]
	}
	p.keysMu.RUnlock()

	snaps := make([]health.KeySnapshot, len(keys))
	for i, ks := range keys {
		snaps[i] = ks.healthSnapshot(now)
	}
	return snaps
}

// AddKey registers a new key with the Pool, loading any quota usage it
// persisted in a previous process.
func (p *Pool[R]) AddKey(cfg KeyConfig) error {
	if p.closed.Load() {
		return ErrShutdown
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	p.keysMu.Lock()
	if _, exists := p.keys[cfg.ID]; exists {
		p.keysMu.Unlock()
		return duplicateIDError(cfg.ID)
	}
	ks := newKeyState(cfg, p.cfg.circuitConfig(), p.cfg.warningThreshold(), time.Now())
	p.keys[cfg.ID] = ks
	p.order = append(p.order, cfg.ID)
	p.keysMu.Unlock()

	p.loadPersistedQuota(ks)
	return nil
}

// RemoveKey unregisters a key. In-flight requests already dispatched to
// it are unaffected; future dispatch attempts will skip it.
func (p *Pool[R]) RemoveKey(id string) error {
	p.keysMu.Lock()
	defer p.keysMu.Unlock()

	if _, ok := p.keys[id]; !ok {
		return &InvalidKeyConfigError{KeyID: id, Reason: "key not registered"}
	}
	if len(p.order) == 1 {
		return fmt.Errorf("keyrot: cannot remove %q: %w", id, ErrNoKeysConfigured)
	}
	delete(p.keys, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// CloseCircuit forces a key's circuit breaker closed for its next
// dispatch attempt only; after that attempt the breaker's own state
// applies again. The key's consecutive failure count is left unchanged.
func (p *Pool[R]) CloseCircuit(id string) error {
	ks := p.getKey(id)
	if ks == nil {
		return &InvalidKeyConfigError{KeyID: id, Reason: "key not registered"}
	}
	ks.forceCloseCircuit()
	return nil
}

// OpenCircuit forces a key's circuit breaker open for its configured
// reset timeout.
func (p *Pool[R]) OpenCircuit(id string) error {
	ks := p.getKey(id)
	if ks == nil {
		return &InvalidKeyConfigError{KeyID: id, Reason: "key not registered"}
	}
	ks.forceOpenCircuit(time.Now())
	p.hooks.keyCircuitOpen(id)
	return nil
}

// ResetQuota clears a key's quota usage for the current period.
func (p *Pool[R]) ResetQuota(id string) error {
	ks := p.getKey(id)
	if ks == nil {
		return &InvalidKeyConfigError{KeyID: id, Reason: "key not registered"}
	}
	ks.resetQuota(time.Now())
	p.persistQuota(ks)
	return nil
}

// GetKeyStats returns a snapshot of one key's state.
func (p *Pool[R]) GetKeyStats(id string) (KeyStats, error) {
	ks := p.getKey(id)
	if ks == nil {
		return KeyStats{}, &InvalidKeyConfigError{KeyID: id, Reason: "key not registered"}
	}
	return ks.stats(time.Now()), nil
}

// GetAllKeyStats returns a snapshot of every registered key, in
// registration order.
func (p *Pool[R]) GetAllKeyStats() []KeyStats {
	p.keysMu.RLock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	keys := make([]*KeyState, len(ids))
	for i, id := range ids {
		keys[i] = p.keys[id]
	}
	p.keysMu.RUnlock()

	now := time.Now()
	out := make([]KeyStats, len(keys))
	for i, ks := range keys {
		out[i] = ks.stats(now)
	}
	return out
}

// GetHealth returns the pool-wide health aggregate.
func (p *Pool[R]) GetHealth() HealthSnapshot {
	now := time.Now()
	return health.Compute(p.keySnapshots(now), now)
}

// GetQueueSize returns the number of requests currently waiting to be
// dispatched.
func (p *Pool[R]) GetQueueSize() int {
	return p.q.Size()
}

// Shutdown stops the dispatch loop, fails every pending request with
// ErrShutdown, and closes the underlying Store. A request already being
// dispatched is not interrupted; Shutdown blocks until the dispatch
// worker has returned or ctx is done.
func (p *Pool[R]) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.dispatchCancel()
	p.q.Clear(fmt.Errorf("keyrot: %w", ErrShutdown))

	done := make(chan struct{})
	go func() {
		p.loopWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return p.store.Close()
}
