package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// PacerConfig holds politeness settings.
type PacerConfig struct {
	Lanes       int
	MinDelay    time.Duration
	Jitter      time.Duration
	MaxRPS      float64
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// OnWait observes time spent waiting for politeness, per lane.
	OnWait func(lane int, waited time.Duration)
}

// Lane is one politeness slot: a single in-flight request at a time, spaced
// by min delay plus jitter, slowed further after transient failures.
type Lane struct {
	ID int

	mu       sync.Mutex
	last     time.Time
	failures int
}

// Failures returns the current consecutive transient failure count.
func (l *Lane) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// Pacer hands out lanes and enforces inter-request spacing.
type Pacer struct {
	cfg     PacerConfig
	lanes   chan *Lane
	limiter *rate.Limiter
	backoff Backoff
	now     func() time.Time
}

// NewPacer builds a pacer with cfg.Lanes lanes (at least one).
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	limit := rate.Inf
	if cfg.MaxRPS > 0 {
		limit = rate.Limit(cfg.MaxRPS)
	}
	lanes := make(chan *Lane, cfg.Lanes)
	for i := 0; i < cfg.Lanes; i++ {
		lanes <- &Lane{ID: i}
	}
	return &Pacer{
		cfg:     cfg,
		lanes:   lanes,
		limiter: rate.NewLimiter(limit, 1),
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		now:     time.Now,
	}
}

// Size returns the number of lanes.
func (p *Pacer) Size() int { return p.cfg.Lanes }

// Acquire blocks until a lane is free.
func (p *Pacer) Acquire(ctx context.Context) (*Lane, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire lane: %w", ctx.Err())
	case l := <-p.lanes:
		return l, nil
	}
}

// Release returns a lane to the pool.
func (p *Pacer) Release(l *Lane) {
	if l == nil {
		return
	}
	p.lanes <- l
}

// Wait blocks until lane may issue its next request, then takes a token from
// the shared limiter.
func (p *Pacer) Wait(ctx context.Context, l *Lane) error {
	start := p.now()
	if d := p.nextDelay(l); d > 0 {
		if err := pause(ctx, d); err != nil {
			return fmt.Errorf("lane %d delay: %w", l.ID, err)
		}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := p.now().Sub(start); waited > time.Millisecond && p.cfg.OnWait != nil {
		p.cfg.OnWait(l.ID, waited)
	}
	return nil
}

func (p *Pacer) nextDelay(l *Lane) time.Duration {
	l.mu.Lock()
	last, failures := l.last, l.failures
	l.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	gap := p.cfg.MinDelay + randomJitter(p.cfg.Jitter) + p.backoff.Delay(failures)
	return last.Add(gap).Sub(p.now())
}

// RetryDelay is how long a key that failed transiently attempts times waits
// before it is probed again.
func (p *Pacer) RetryDelay(attempts int) time.Duration {
	return p.backoff.Delay(attempts)
}

// Done records the outcome of the lane's request. Transient errors grow the
// lane's backoff; anything else resets it.
func (p *Pacer) Done(l *Lane, status discovery.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = p.now()
	if status == discovery.StatusTransientError {
		l.failures++
		return
	}
	l.failures = 0
}

func pause(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
