// Package poller periodically reads the latest sensor snapshot and hands it
// to the view state.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/internal/source"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

var log = logger.Scope("Poller")

// Sink receives snapshots. It reports whether the displayed state changed.
type Sink interface {
	PublishSnapshot(snap types.SensorSnapshot, receivedAt time.Time) bool
}

type Options struct {
	Interval time.Duration // default 5s
	Timeout  time.Duration // per poll, default 10s
	Metrics  *metrics.Metrics
}

// Poller fires one poll immediately and one per interval afterwards. Polls
// are not serialized: a slow poll may overlap the next one and whichever
// finishes last wins.
type Poller struct {
	src      source.Source
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

func New(src source.Source, sink Sink, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Poller{
		src:      src,
		sink:     sink,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight polls. Their
// results are dropped.
func (p *Poller) Run(ctx context.Context) {
	defer p.wg.Wait()

	p.spawn(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

func (p *Poller) spawn(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.PollOnce(ctx)
	}()
}

// PollOnce performs a single read. Failures are logged and counted; the
// sink is left untouched.
func (p *Poller) PollOnce(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, err := p.src.Latest(pctx)
	if ctx.Err() != nil {
		// view stopped while the read was in flight
		return ctx.Err()
	}
	if err != nil {
		p.metrics.PollsFailed.Add(1)
		switch {
		case errors.Is(err, source.ErrNoData):
			log.Warn("No live status record available")
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("Status poll timed out after %s", p.timeout)
		default:
			log.Error("Status poll failed: %v", err)
		}
		return err
	}

	p.metrics.PollsOK.Add(1)
	if p.sink.PublishSnapshot(snap, time.Now()) {
		log.Debug("Snapshot updated: %.1f°C %.0f%%", snap.Temperature, snap.Humidity)
	}
	return nil
}
