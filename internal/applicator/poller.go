package applicator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MinPollInterval is the shortest interval a Poller accepts
const MinPollInterval = time.Minute

// Poller periodically applies updates whenever the source publishes a newer version
type Poller struct {
	app      *Applicator
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	onApplied   func(*Report)
	onAppliedMu sync.RWMutex
}

// NewPoller creates a Poller. Intervals below MinPollInterval are raised to it.
func NewPoller(app *Applicator, interval time.Duration) *Poller {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Poller{
		app:      app,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Interval returns the effective poll interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// SetOnApplied sets a callback invoked after each run that installed something
func (p *Poller) SetOnApplied(fn func(*Report)) {
	p.onAppliedMu.Lock()
	p.onApplied = fn
	p.onAppliedMu.Unlock()
}

func (p *Poller) triggerOnApplied(report *Report) {
	p.onAppliedMu.RLock()
	fn := p.onApplied
	p.onAppliedMu.RUnlock()
	if fn != nil {
		fn(report)
	}
}

// Start begins the background poll loop
func (p *Poller) Start(ctx context.Context) {
	go p.pollLoop(ctx)
}

// Stop stops the background poll loop
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Done is closed once the poll loop has exited
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer close(p.done)

	// Initial poll
	if _, err := p.Poll(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial update poll failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				log.Warn().Err(err).Msg("Update poll failed")
			}
		}
	}
}

// Poll checks the source once and applies pending patches
func (p *Poller) Poll(ctx context.Context) (*Report, error) {
	report, err := p.app.poll(ctx)
	if err != nil {
		return report, err
	}

	if report.Changed() {
		log.Info().
			Stringer("from", report.From).
			Stringer("to", report.To).
			Int("patches", report.Patches).
			Dur("duration", report.Duration).
			Msg("Update installed")
		p.triggerOnApplied(report)
	}
	return report, nil
}
