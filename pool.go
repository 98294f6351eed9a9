package pagedoc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Pool sizing constants.
const (
	// MinPoolSize ensures at least one engine is available.
	MinPoolSize = 1

	// MaxPoolSize caps browser instances to limit memory (~200MB each).
	MaxPoolSize = 8

	// cpuDivisor leaves headroom for Chrome child processes.
	cpuDivisor = 2
)

// Pool timing defaults.
const (
	defaultAcquireTimeout = 30 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
	defaultIdleTimeout    = 3 * time.Minute
	defaultSweepInterval  = 60 * time.Second
)

// Handle is a leased reference to one pooled render engine. The engine is
// exclusively owned by the holder until returned via EnginePool.Release;
// ownership of the underlying instance (lifecycle, closing) never transfers.
type Handle struct {
	id     string
	engine RenderEngine
}

// Engine returns the leased render engine.
func (h *Handle) Engine() RenderEngine { return h.engine }

// ID returns the stable pool-assigned id of the instance.
func (h *Handle) ID() string { return h.id }

// pooledEngine is the pool's bookkeeping record for one instance.
type pooledEngine struct {
	id       string
	engine   RenderEngine
	inUse    bool
	lastUsed time.Time
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Total        int
	InUse        int
	Available    int
	MaxInstances int
}

// PoolConfig configures an EnginePool. Zero values resolve to defaults.
type PoolConfig struct {
	MaxInstances   int
	AcquireTimeout time.Duration
	PollInterval   time.Duration
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	Factory        EngineFactory
	Logger         *log.Logger
}

// EnginePool manages a bounded set of render-engine instances with reuse,
// capacity-bounded creation, bounded waiting, and idle reclamation.
// Engines are created lazily on first acquire to avoid startup delay.
type EnginePool struct {
	cfg    PoolConfig
	logger *log.Logger

	mu      sync.Mutex
	engines []*pooledEngine
	closed  bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewEnginePool creates a pool and starts its background idle sweep.
// Call CloseAll when done; the pool does not rely on process-exit cleanup.
func NewEnginePool(cfg PoolConfig) *EnginePool {
	if cfg.MaxInstances < 1 {
		cfg.MaxInstances = ResolvePoolSize(0)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Factory == nil {
		cfg.Factory = NewRodEngineFactory(defaultNavigationTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger
	}

	p := &EnginePool{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "engine-pool"),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// Acquire returns an exclusive handle to a render engine. Idle instances are
// reused; below capacity a new instance is started; at capacity the call
// polls for a free instance until the acquire timeout elapses, then fails
// with ErrPoolExhausted. The returned handle must be released on every exit
// path; a leaked handle permanently shrinks effective pool capacity.
func (p *EnginePool) Acquire(ctx context.Context) (*Handle, error) {
	h, err := p.tryAcquire()
	if err != nil || h != nil {
		return h, err
	}

	// At capacity: poll for an idle instance within the wait budget.
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			h, err := p.tryAcquire()
			if err != nil || h != nil {
				return h, err
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("%w: no engine available within %s", ErrPoolExhausted, p.cfg.AcquireTimeout)
			}
		}
	}
}

// tryAcquire attempts one non-blocking acquisition: reuse an idle instance,
// or create a new one below capacity. Returns (nil, nil) when the pool is at
// capacity with nothing idle.
func (p *EnginePool) tryAcquire() (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	for _, pe := range p.engines {
		if !pe.inUse && pe.engine != nil {
			pe.inUse = true
			h := &Handle{id: pe.id, engine: pe.engine}
			p.mu.Unlock()
			return h, nil
		}
	}

	if len(p.engines) < p.cfg.MaxInstances {
		// Reserve a slot, then start the engine outside the lock: engine
		// startup is expensive and must not serialize other callers.
		pe := &pooledEngine{id: uuid.NewString(), inUse: true, lastUsed: time.Now()}
		p.engines = append(p.engines, pe)
		p.mu.Unlock()

		engine, err := p.cfg.Factory()
		if err != nil {
			p.mu.Lock()
			p.removeLocked(pe.id)
			p.mu.Unlock()
			return nil, fmt.Errorf("starting render engine: %w", err)
		}

		p.mu.Lock()
		if p.closed {
			// CloseAll ran while the engine was starting; its record is no
			// longer in the pool, so the engine must be closed here rather
			// than leak until an unrecognized-handle release.
			p.mu.Unlock()
			if cerr := engine.Close(); cerr != nil {
				p.logger.Warn("closing engine started during shutdown failed", "id", pe.id, "error", cerr)
			}
			return nil, ErrPoolClosed
		}
		pe.engine = engine
		p.mu.Unlock()
		p.logger.Debug("started render engine", "id", pe.id)
		return &Handle{id: pe.id, engine: engine}, nil
	}

	p.mu.Unlock()
	return nil, nil
}

// Release returns a handle to the pool and stamps its last-used time.
// Releasing a handle the pool does not recognize never crashes the pool:
// the foreign engine is closed and a warning logged.
func (p *EnginePool) Release(h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	for _, pe := range p.engines {
		if pe.id == h.id {
			pe.inUse = false
			pe.lastUsed = time.Now()
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	p.logger.Warn("release of unrecognized engine handle, closing it", "id", h.id)
	if h.engine != nil {
		if err := h.engine.Close(); err != nil {
			p.logger.Warn("closing unrecognized engine failed", "id", h.id, "error", err)
		}
	}
}

// Stats returns a snapshot of pool occupancy.
func (p *EnginePool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolStats{Total: len(p.engines), MaxInstances: p.cfg.MaxInstances}
	for _, pe := range p.engines {
		if pe.inUse {
			s.InUse++
		} else {
			s.Available++
		}
	}
	return s
}

// CloseAll stops the idle sweep and concurrently closes every pooled engine.
// Close errors are collected, not propagated individually.
func (p *EnginePool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	engines := p.engines
	p.engines = nil
	p.mu.Unlock()

	close(p.stopSweep)
	<-p.sweepDone

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, pe := range engines {
		if pe.engine == nil {
			continue
		}
		wg.Add(1)
		go func(pe *pooledEngine) {
			defer wg.Done()
			if err := pe.engine.Close(); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("engine %s: %w", pe.id, err))
				errMu.Unlock()
			}
		}(pe)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// sweepLoop periodically reclaims engines that have sat idle past the idle
// timeout. Close failures are logged, never surfaced to callers.
func (p *EnginePool) sweepLoop() {
	defer close(p.sweepDone)

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

// sweepIdle collects expired idle engines under the lock, then closes them
// outside it.
func (p *EnginePool) sweepIdle() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	var expired []*pooledEngine
	kept := p.engines[:0]
	for _, pe := range p.engines {
		if !pe.inUse && pe.engine != nil && pe.lastUsed.Before(cutoff) {
			expired = append(expired, pe)
		} else {
			kept = append(kept, pe)
		}
	}
	p.engines = kept
	p.mu.Unlock()

	for _, pe := range expired {
		if err := pe.engine.Close(); err != nil {
			p.logger.Warn("closing idle engine failed", "id", pe.id, "error", err)
		} else {
			p.logger.Debug("reclaimed idle engine", "id", pe.id)
		}
	}
}

// removeLocked removes an engine record by id. Caller holds p.mu.
func (p *EnginePool) removeLocked(id string) {
	for i, pe := range p.engines {
		if pe.id == id {
			p.engines = append(p.engines[:i], p.engines[i+1:]...)
			return
		}
	}
}

// ResolvePoolSize determines the pool size.
// Priority: explicit value > GOMAXPROCS-based calculation.
func ResolvePoolSize(maxInstances int) int {
	if maxInstances > 0 {
		return maxInstances
	}

	// Auto-calculate based on GOMAXPROCS (adjusted by automaxprocs in containers)
	n := runtime.GOMAXPROCS(0) / cpuDivisor
	if n < MinPoolSize {
		return MinPoolSize
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}
