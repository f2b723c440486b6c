// Package status publishes throttled aggregate task counts for badge and
// dashboard collaborators.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sightline/internal/logging"
	"sightline/internal/scheduler"
)

const defaultThrottle = time.Second

// Snapshot is the aggregate state reported to listeners.
type Snapshot struct {
	Counts       scheduler.Counts `json:"counts"`
	Active       int              `json:"active"`
	Online       bool             `json:"online"`
	OfflineDepth int              `json:"offline_depth"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// Collector assembles a fresh snapshot. GeneratedAt is filled in by the publisher.
type Collector func() Snapshot

// Publisher coalesces change notifications and publishes snapshots no more
// often than once per throttle interval.
type Publisher struct {
	collect Collector
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	pending chan struct{}

	mu      sync.Mutex
	latest  Snapshot
	hasLast bool
	subs    map[int]chan Snapshot
	nextSub int
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPublisher constructs a Publisher. A non-positive throttle uses one second.
func NewPublisher(throttle time.Duration, collect Collector, logger *slog.Logger) *Publisher {
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	return &Publisher{
		collect: collect,
		limiter: rate.NewLimiter(rate.Every(throttle), 1),
		logger:  logging.NewComponentLogger(logger, "status"),
		now:     time.Now,
		pending: make(chan struct{}, 1),
		subs:    make(map[int]chan Snapshot),
	}
}

// Notify marks the status dirty. It never blocks; bursts collapse into one publish.
func (p *Publisher) Notify() {
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// Start runs the publish loop until ctx is cancelled or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	p.mu.Unlock()

	p.Notify()
	go p.run(runCtx)
}

// Stop terminates the publish loop.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.pending:
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		// drain notifications that arrived while throttled; this publish covers them
		select {
		case <-p.pending:
		default:
		}
		p.publish()
	}
}

// Latest returns the most recent snapshot, collecting one if nothing has been published yet.
func (p *Publisher) Latest() Snapshot {
	p.mu.Lock()
	if p.hasLast {
		snap := p.latest
		p.mu.Unlock()
		return snap
	}
	p.mu.Unlock()
	return p.snapshot()
}

// Subscribe returns a channel that receives published snapshots. Slow
// subscribers see only the newest snapshot. The returned func unsubscribes.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	if p.hasLast {
		ch <- p.latest
	}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

func (p *Publisher) snapshot() Snapshot {
	var snap Snapshot
	if p.collect != nil {
		snap = p.collect()
	}
	snap.Active = snap.Counts.Active()
	snap.GeneratedAt = p.now().UTC()
	return snap
}

func (p *Publisher) publish() {
	snap := p.snapshot()

	p.mu.Lock()
	p.latest = snap
	p.hasLast = true
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	subscribers := len(p.subs)
	p.mu.Unlock()

	p.logger.Debug("status published",
		logging.Int("active", snap.Active),
		logging.Bool("online", snap.Online),
		logging.Int("offline_depth", snap.OfflineDepth),
		logging.Int("subscribers", subscribers),
	)
}
