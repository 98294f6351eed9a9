package pagedoc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeEngine is a hand-rolled RenderEngine for pool and pagination tests.
type fakeEngine struct {
	mu       sync.Mutex
	loads    int
	exports  int
	closed   bool
	loadErr  error
	pdf      []byte
	pdfErr   error
	evalFn   func(script string, out any) error
	closeErr error
}

func (f *fakeEngine) Load(_ context.Context, _ string, _ LoadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeEngine) Evaluate(_ context.Context, script string, out any) error {
	f.mu.Lock()
	fn := f.evalFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(script, out)
}

func (f *fakeEngine) ExportPDF(_ context.Context, _ ExportOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports++
	return f.pdf, f.pdfErr
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory builds fakeEngines and records them.
type fakeFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	err     error
}

func (ff *fakeFactory) factory() (RenderEngine, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	e := &fakeEngine{}
	ff.engines = append(ff.engines, e)
	return e, nil
}

func newTestPool(t *testing.T, cfg PoolConfig) (*EnginePool, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	if cfg.Factory == nil {
		cfg.Factory = ff.factory
	}
	p := NewEnginePool(cfg)
	t.Cleanup(func() { _ = p.CloseAll() })
	return p, ff
}

func TestPoolAcquireCreatesAndReuses(t *testing.T) {
	p, ff := newTestPool(t, PoolConfig{MaxInstances: 2})
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	p.Release(h1)

	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	defer p.Release(h2)

	if h2.ID() != h1.ID() {
		t.Errorf("idle engine not reused: %s vs %s", h1.ID(), h2.ID())
	}
	if len(ff.engines) != 1 {
		t.Errorf("factory called %d times, want 1", len(ff.engines))
	}
}

func TestPoolStatsInvariant(t *testing.T) {
	p, _ := newTestPool(t, PoolConfig{MaxInstances: 3})
	ctx := context.Background()

	h1, _ := p.Acquire(ctx)
	h2, _ := p.Acquire(ctx)
	p.Release(h2)

	s := p.Stats()
	if s.Total != s.InUse+s.Available {
		t.Errorf("invariant broken: total=%d inUse=%d available=%d", s.Total, s.InUse, s.Available)
	}
	if s.InUse != 1 || s.Available != 1 {
		t.Errorf("stats = %+v, want 1 in use and 1 available", s)
	}
	p.Release(h1)
}

func TestPoolBlocksAtCapacityUntilRelease(t *testing.T) {
	p, _ := newTestPool(t, PoolConfig{
		MaxInstances:   1,
		AcquireTimeout: 2 * time.Second,
		PollInterval:   5 * time.Millisecond,
	})
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan *Handle, 1)
	go func() {
		h, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("blocked acquire failed: %v", err)
		}
		acquired <- h
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the only engine is leased")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(h1)

	select {
	case h2 := <-acquired:
		if h2.ID() != h1.ID() {
			t.Errorf("expected reuse of the single instance")
		}
		p.Release(h2)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not resolve after release")
	}
}

func TestPoolExhaustion(t *testing.T) {
	p, _ := newTestPool(t, PoolConfig{
		MaxInstances:   1,
		AcquireTimeout: 30 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(h)

	_, err = p.Acquire(ctx)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("got %v, want ErrPoolExhausted", err)
	}
}

func TestPoolAcquireRespectsContext(t *testing.T) {
	p, _ := newTestPool(t, PoolConfig{
		MaxInstances:   1,
		AcquireTimeout: 10 * time.Second,
		PollInterval:   5 * time.Millisecond,
	})

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestPoolReleaseUnknownHandle(t *testing.T) {
	p, _ := newTestPool(t, PoolConfig{MaxInstances: 2})

	foreign := &fakeEngine{}
	before := p.Stats().Total

	// Must not panic, must not change pool size, must close the engine.
	p.Release(&Handle{id: "not-ours", engine: foreign})

	if got := p.Stats().Total; got != before {
		t.Errorf("pool size changed from %d to %d on foreign release", before, got)
	}
	if !foreign.isClosed() {
		t.Error("foreign engine was not closed")
	}
}

func TestPoolFactoryFailureFreesSlot(t *testing.T) {
	ff := &fakeFactory{err: errors.New("boom")}
	p := NewEnginePool(PoolConfig{MaxInstances: 1, Factory: ff.factory})
	t.Cleanup(func() { _ = p.CloseAll() })

	_, err := p.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected factory error")
	}

	// The reserved slot must be released so a later attempt can retry.
	if got := p.Stats().Total; got != 0 {
		t.Errorf("failed creation left %d slots reserved", got)
	}

	ff.mu.Lock()
	ff.err = nil
	ff.mu.Unlock()
	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	p.Release(h)
}

func TestPoolCloseAll(t *testing.T) {
	ff := &fakeFactory{}
	p := NewEnginePool(PoolConfig{MaxInstances: 2, Factory: ff.factory})
	ctx := context.Background()

	h1, _ := p.Acquire(ctx)
	h2, _ := p.Acquire(ctx)
	p.Release(h1)
	p.Release(h2)

	if err := p.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	for i, e := range ff.engines {
		if !e.isClosed() {
			t.Errorf("engine %d not closed", i)
		}
	}

	// Acquire after close fails, and a second close is a no-op.
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("got %v, want ErrPoolClosed", err)
	}
	if err := p.CloseAll(); err != nil {
		t.Errorf("second CloseAll: %v", err)
	}
}

func TestPoolCloseDuringEngineStart(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	engine := &fakeEngine{}
	factory := func() (RenderEngine, error) {
		close(started)
		<-proceed
		return engine, nil
	}
	p := NewEnginePool(PoolConfig{MaxInstances: 1, Factory: factory})

	result := make(chan error, 1)
	go func() {
		h, err := p.Acquire(context.Background())
		if h != nil {
			p.Release(h)
		}
		result <- err
	}()

	// Shut down while the factory call is in flight, then let it finish.
	<-started
	if err := p.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	close(proceed)

	if err := <-result; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("acquire during shutdown: got %v, want ErrPoolClosed", err)
	}
	if !engine.isClosed() {
		t.Error("engine started during shutdown was not closed")
	}
}

func TestPoolSweepReclaimsIdleEngines(t *testing.T) {
	ff := &fakeFactory{}
	p := NewEnginePool(PoolConfig{
		MaxInstances:  2,
		IdleTimeout:   10 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
		Factory:       ff.factory,
	})
	t.Cleanup(func() { _ = p.CloseAll() })

	h, _ := p.Acquire(context.Background())
	p.Release(h)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Total == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Stats().Total; got != 0 {
		t.Fatalf("idle engine not reclaimed, pool still holds %d", got)
	}
	if len(ff.engines) != 1 || !ff.engines[0].isClosed() {
		t.Error("reclaimed engine was not closed")
	}
}

func TestResolvePoolSize(t *testing.T) {
	if got := ResolvePoolSize(5); got != 5 {
		t.Errorf("explicit size: got %d, want 5", got)
	}
	got := ResolvePoolSize(0)
	if got < MinPoolSize || got > MaxPoolSize {
		t.Errorf("auto size %d outside [%d, %d]", got, MinPoolSize, MaxPoolSize)
	}
}
