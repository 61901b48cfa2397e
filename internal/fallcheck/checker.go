// Package fallcheck schedules fall checks: capture a frame, submit it for
// analysis, publish the result.
package fallcheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

var log = logger.Scope("FallCheck")

// ErrStopped is returned by CheckNow once the checker has been stopped.
var ErrStopped = errors.New("fallcheck: stopped")

type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

type Analyzer interface {
	Check(ctx context.Context, frame []byte) (types.AnalysisResult, error)
}

// Sink is the display state a check reports to.
type Sink interface {
	BeginCheck()
	EndCheck()
	// PublishAnalysis stores res and reports whether it starts a new fall.
	PublishAnalysis(res types.AnalysisResult, at time.Time) bool
}

// Notifier is told about each new fall.
type Notifier interface {
	NotifyFall(ctx context.Context, ev types.FallEvent) error
}

// Phase of the most recently started check.
type Phase int32

const (
	Idle Phase = iota
	Capturing
	AwaitingResponse
)

func (p Phase) String() string {
	switch p {
	case Capturing:
		return "capturing"
	case AwaitingResponse:
		return "awaiting_response"
	default:
		return "idle"
	}
}

type Options struct {
	Interval  time.Duration // default 5s
	Auto      bool
	Notifiers []Notifier
	Metrics   *metrics.Metrics
}

// Status is a point-in-time view of the checker.
type Status struct {
	Auto     bool   `json:"auto"`
	InFlight bool   `json:"in_flight"`
	Phase    string `json:"phase"`
}

// Checker runs automatic checks on a timer and manual checks on request.
// At most one automatic check is in flight; a tick that finds one running
// is skipped. Manual checks are not guarded and may overlap anything.
type Checker struct {
	capturer  Capturer
	analyzer  Analyzer
	sink      Sink
	notifiers []Notifier
	interval  time.Duration
	metrics   *metrics.Metrics

	auto     atomic.Bool
	inFlight atomic.Bool
	phase    atomic.Int32

	mu     sync.Mutex
	runCtx context.Context
	wg     sync.WaitGroup
}

func New(capturer Capturer, analyzer Analyzer, sink Sink, opts Options) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	c := &Checker{
		capturer:  capturer,
		analyzer:  analyzer,
		sink:      sink,
		notifiers: opts.Notifiers,
		interval:  opts.Interval,
		metrics:   opts.Metrics,
	}
	c.auto.Store(opts.Auto)
	return c
}

// SetAuto enables or disables automatic checks.
func (c *Checker) SetAuto(enabled bool) {
	if c.auto.Swap(enabled) != enabled {
		log.Info("Automatic checks %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
	}
}

func (c *Checker) Auto() bool { return c.auto.Load() }

func (c *Checker) Status() Status {
	return Status{
		Auto:     c.auto.Load(),
		InFlight: c.inFlight.Load(),
		Phase:    Phase(c.phase.Load()).String(),
	}
}

// Run ticks until ctx is cancelled and then waits for running checks.
// Results of checks that finish after cancellation are dropped.
func (c *Checker) Run(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	defer c.wg.Wait()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.auto.Load() {
				c.tryAuto(ctx)
			}
		}
	}
}

// tryAuto starts an automatic check unless one is still running.
func (c *Checker) tryAuto(ctx context.Context) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.metrics.ChecksSkipped.Add(1)
		log.Debug("Previous automatic check still running, skipping tick")
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inFlight.Store(false)
		_, _ = c.run(ctx)
	}()
	return true
}

// CheckNow runs one check immediately and returns its result. It is bound
// to both ctx and the running checker.
func (c *Checker) CheckNow(ctx context.Context) (types.AnalysisResult, error) {
	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	if runCtx != nil {
		if runCtx.Err() != nil {
			return types.AnalysisResult{}, ErrStopped
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()
	}
	return c.run(ctx)
}

// run performs Capturing -> AwaitingResponse -> Idle. On failure the sink
// keeps its previous result.
func (c *Checker) run(ctx context.Context) (types.AnalysisResult, error) {
	c.metrics.ChecksStarted.Add(1)
	c.sink.BeginCheck()
	defer c.sink.EndCheck()
	defer c.phase.Store(int32(Idle))

	c.phase.Store(int32(Capturing))
	frame, err := c.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.metrics.CaptureErrors.Add(1)
			log.Warn("Frame capture failed: %v", err)
		}
		return types.AnalysisResult{}, err
	}

	c.phase.Store(int32(AwaitingResponse))
	res, err := c.analyzer.Check(ctx, frame)
	if ctx.Err() != nil {
		return types.AnalysisResult{}, ctx.Err()
	}
	if err != nil {
		c.metrics.ChecksFailed.Add(1)
		log.Error("Fall check failed: %v", err)
		return types.AnalysisResult{}, err
	}

	now := time.Now()
	if c.sink.PublishAnalysis(res, now) {
		c.metrics.FallsDetected.Add(1)
		ev := types.FallEvent{ID: uuid.NewString(), DetectedAt: now, Result: res, Frame: frame}
		log.Warn("Fall detected (%s): %s", ev.ID, res.Description)
		c.notify(ctx, ev)
	}
	return res, nil
}

func (c *Checker) notify(ctx context.Context, ev types.FallEvent) {
	for _, n := range c.notifiers {
		nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := n.NotifyFall(nctx, ev); err != nil {
			log.Error("Fall notification failed: %v", err)
		}
		cancel()
	}
}
