// Package governor enforces a per-session duration ceiling on a fixed tick.
package governor

import (
	"sync"
	"time"
)

const DefaultInterval = time.Second

type Config struct {
	// Interval between checks. Defaults to one second.
	Interval time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// OnTick receives the elapsed whole seconds after every check.
	OnTick func(elapsed int)
	// OnExpire is called at most once, the first time elapsed reaches the ceiling.
	OnExpire func(elapsed int)
}

// Governor compares elapsed call time against a ceiling it re-reads on every
// tick, so a ceiling resolved after the governor was built is still honoured.
type Governor struct {
	ceiling *Latest[int]
	elapsed *Latest[int]
	cfg     Config

	mu        sync.Mutex
	startedAt time.Time
	running   bool
	stopped   bool
	fired     bool
	done      chan struct{}
	stopOnce  sync.Once
}

func New(ceiling *Latest[int], cfg Config) *Governor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if ceiling == nil {
		ceiling = NewLatest(0)
	}
	return &Governor{
		ceiling: ceiling,
		elapsed: NewLatest(0),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// Start binds the governor to the call start instant and begins ticking.
// Only the first call has an effect.
func (g *Governor) Start(startedAt time.Time) {
	g.mu.Lock()
	if g.running || g.stopped {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.startedAt = startedAt
	g.mu.Unlock()

	g.elapsed.Set(0)

	ticker := time.NewTicker(g.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
				g.Check()
			}
		}
	}()
}

// Check runs one evaluation against the current clock. It returns the elapsed
// seconds and whether this call fired the expiry. After Stop it does nothing.
func (g *Governor) Check() (int, bool) {
	g.mu.Lock()
	if g.stopped || !g.running {
		g.mu.Unlock()
		return g.elapsed.Load(), false
	}
	elapsed := int(g.cfg.Now().Sub(g.startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if prev := g.elapsed.Load(); elapsed < prev {
		elapsed = prev
	}
	g.elapsed.Set(elapsed)

	ceiling := g.ceiling.Load()
	fire := !g.fired && ceiling > 0 && elapsed >= ceiling
	if fire {
		g.fired = true
	}
	g.mu.Unlock()

	if g.cfg.OnTick != nil {
		g.cfg.OnTick(elapsed)
	}
	if fire && g.cfg.OnExpire != nil {
		g.cfg.OnExpire(elapsed)
	}
	return elapsed, fire
}

// Elapsed is the last computed elapsed value in whole seconds.
func (g *Governor) Elapsed() int {
	return g.elapsed.Load()
}

// Ceiling is the ceiling the next tick will compare against.
func (g *Governor) Ceiling() int {
	return g.ceiling.Load()
}

// Stop halts ticking. It is safe to call more than once and before Start.
func (g *Governor) Stop() {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		g.stopped = true
		g.mu.Unlock()
		close(g.done)
	})
}
