// Package dashboard holds the displayed state of a care dashboard and serves
// it to browsers as a page, a JSON API and live push streams.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/smartcare-lab/care-monitor/internal/fallcheck"
	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/internal/poller"
	"github.com/smartcare-lab/care-monitor/internal/source"
)

type ViewOptions struct {
	Source   source.Source
	Capturer fallcheck.Capturer
	Analyzer fallcheck.Analyzer

	PollInterval      time.Duration
	PollTimeout       time.Duration
	CheckInterval     time.Duration
	AutoCheck         bool
	HeartbeatInterval time.Duration

	Notifiers []fallcheck.Notifier
	Metrics   *metrics.Metrics
}

// View owns everything one dashboard needs: the displayed state, the
// status poller, the fall checker and the live broadcaster. Its timers run
// between Start and Stop and nothing outlives it.
type View struct {
	State       *State
	Broadcaster *StatusBroadcaster
	Checker     *fallcheck.Checker

	poller *poller.Poller

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

func NewView(opts ViewOptions) *View {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	state := NewState()
	state.SetAutoCheck(opts.AutoCheck)

	b := NewStatusBroadcaster(state.Snapshot, opts.HeartbeatInterval)
	state.OnChange(b.Publish)

	v := &View{
		State:       state,
		Broadcaster: b,
		poller: poller.New(opts.Source, state, poller.Options{
			Interval: opts.PollInterval,
			Timeout:  opts.PollTimeout,
			Metrics:  opts.Metrics,
		}),
	}
	if opts.Capturer != nil && opts.Analyzer != nil {
		v.Checker = fallcheck.New(opts.Capturer, opts.Analyzer, state, fallcheck.Options{
			Interval:  opts.CheckInterval,
			Auto:      opts.AutoCheck,
			Notifiers: opts.Notifiers,
			Metrics:   opts.Metrics,
		})
	} else {
		state.SetAutoCheck(false)
	}
	return v
}

// Start launches the view's timers under ctx.
func (v *View) Start(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started || v.stopped {
		return
	}
	v.started = true

	ctx, v.cancel = context.WithCancel(ctx)
	v.Broadcaster.Start()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.poller.Run(ctx)
	}()
	if v.Checker != nil {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			v.Checker.Run(ctx)
		}()
	}
	logger.Info("View", "Started")
}

// Stop cancels every timer, waits for in-flight work and closes live clients.
// Results that arrive after Stop are discarded.
func (v *View) Stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	cancel := v.cancel
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	v.State.Close()
	v.wg.Wait()
	v.Broadcaster.Stop()
	logger.Info("View", "Stopped")
}

// SetAutoCheck toggles automatic fall checks.
func (v *View) SetAutoCheck(enabled bool) bool {
	if v.Checker == nil {
		return false
	}
	v.Checker.SetAuto(enabled)
	v.State.SetAutoCheck(enabled)
	return true
}
