package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker is what the pump drives.
type Ticker interface {
	Tick()
}

// Pump calls Tick at a fixed rate on its own goroutine. It replaces the host
// game loop when the runtime runs standalone.
type Pump struct {
	target   Ticker
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPump creates a pump ticking rate times per second.
func NewPump(target Ticker, rate int, logger *zap.Logger) *Pump {
	if rate <= 0 {
		rate = 60
	}
	return &Pump{
		target:   target,
		interval: time.Second / time.Duration(rate),
		logger:   logger,
	}
}

// Interval returns the tick budget.
func (p *Pump) Interval() time.Duration {
	return p.interval
}

// Run ticks until ctx is canceled.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("tick pump started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("tick pump stopping")
			return ctx.Err()

		case <-ticker.C:
			start := time.Now()
			p.target.Tick()
			if elapsed := time.Since(start); elapsed > p.interval {
				p.logger.Warn("tick overran its budget",
					zap.Duration("elapsed", elapsed),
					zap.Duration("budget", p.interval))
			}
		}
	}
}

// Start runs the pump in the background. It is a no-op when already running.
func (p *Pump) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = p.Run(ctx)
	}(p.done)
}

// Stop halts the pump and waits for the tick in progress to return.
func (p *Pump) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
