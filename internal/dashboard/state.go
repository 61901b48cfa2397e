package dashboard

import (
	"sync"
	"time"

	"github.com/smartcare-lab/care-monitor/pkg/types"
)

// StatusView is the JSON document pushed to browsers and served by /api/status.
type StatusView struct {
	Sensors        *types.SensorSnapshot       `json:"sensors"`
	UpdatedAt      *time.Time                  `json:"updated_at"`
	Analysis       *types.AnalysisResult       `json:"analysis"`
	AnalyzedAt     *time.Time                  `json:"analyzed_at,omitempty"`
	Analyzing      bool                        `json:"analyzing"`
	AutoCheck      bool                        `json:"auto_check"`
	Stream         types.StreamConnectionState `json:"stream"`
	TodayFallCount int                         `json:"today_fall_count"`
	TotalFallCount int                         `json:"total_fall_count"`
	Version        uint64                      `json:"version"`
	Timestamp      float64                     `json:"timestamp"`
}

// State is the displayed state of one view. All mutation goes through its
// methods; every visible change bumps Version and notifies listeners.
type State struct {
	mu sync.Mutex

	sensors    *types.SensorSnapshot
	receivedAt time.Time
	analysis   *types.AnalysisResult
	analyzedAt time.Time
	analyzing  int
	autoCheck  bool
	stream     types.StreamConnectionState

	fallen     bool
	todayFalls int
	totalFalls int
	countDay   string

	version uint64
	closed  bool

	listeners []func(StatusView)
	now       func() time.Time
}

func NewState() *State {
	return &State{
		stream: types.StreamDisconnected,
		now:    time.Now,
	}
}

// OnChange registers fn to receive the view after every change. fn runs
// outside the lock and may be called concurrently.
func (s *State) OnChange(fn func(StatusView)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Close stops further updates. Late results from in-flight work are dropped.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// PublishSnapshot replaces the displayed sensor snapshot. An identical
// reading is not a change.
func (s *State) PublishSnapshot(snap types.SensorSnapshot, receivedAt time.Time) bool {
	s.mu.Lock()
	if s.closed || (s.sensors != nil && s.sensors.SameReading(snap)) {
		s.mu.Unlock()
		return false
	}
	s.sensors = &snap
	s.receivedAt = receivedAt
	s.commit()
	return true
}

func (s *State) BeginCheck() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.analyzing++
	if s.analyzing > 1 {
		s.mu.Unlock()
		return
	}
	s.commit()
}

func (s *State) EndCheck() {
	s.mu.Lock()
	if s.analyzing > 0 {
		s.analyzing--
	}
	if s.closed || s.analyzing > 0 {
		s.mu.Unlock()
		return
	}
	s.commit()
}

// PublishAnalysis stores res and reports whether it is the start of a new
// fall. A timeout result is displayed but does not end a fall episode.
func (s *State) PublishAnalysis(res types.AnalysisResult, at time.Time) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.rollDay()
	rising := res.IsFallen && !s.fallen
	if res.IsFallen || res.Description != types.TimeoutDescription {
		s.fallen = res.IsFallen
	}
	if rising {
		s.todayFalls++
		s.totalFalls++
	}
	s.analysis = &res
	s.analyzedAt = at
	s.commit()
	return rising
}

// SetStreamState records the camera connection state. Losing the stream
// clears the displayed analysis.
func (s *State) SetStreamState(st types.StreamConnectionState) {
	s.mu.Lock()
	if s.closed || (s.stream == st && (st == types.StreamConnected || s.analysis == nil)) {
		s.mu.Unlock()
		return
	}
	s.stream = st
	if st == types.StreamDisconnected {
		s.analysis = nil
		s.analyzedAt = time.Time{}
	}
	s.commit()
}

func (s *State) SetAutoCheck(enabled bool) {
	s.mu.Lock()
	if s.closed || s.autoCheck == enabled {
		s.mu.Unlock()
		return
	}
	s.autoCheck = enabled
	s.commit()
}

// Snapshot returns the current view.
func (s *State) Snapshot() StatusView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDay()
	return s.viewLocked()
}

// commit bumps the version, releases the lock and notifies listeners.
func (s *State) commit() {
	s.version++
	view := s.viewLocked()
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(view)
	}
}

func (s *State) rollDay() {
	day := s.now().Format(time.DateOnly)
	if s.countDay != day {
		s.countDay = day
		s.todayFalls = 0
	}
}

func (s *State) viewLocked() StatusView {
	v := StatusView{
		Analyzing:      s.analyzing > 0,
		AutoCheck:      s.autoCheck,
		Stream:         s.stream,
		TodayFallCount: s.todayFalls,
		TotalFallCount: s.totalFalls,
		Version:        s.version,
		Timestamp:      float64(s.now().UnixMilli()) / 1000,
	}
	if s.sensors != nil {
		snap := *s.sensors
		v.Sensors = &snap
		updated := snap.ObservedAt
		if updated.IsZero() {
			updated = s.receivedAt
		}
		v.UpdatedAt = &updated
	}
	if s.analysis != nil {
		res := *s.analysis
		v.Analysis = &res
		at := s.analyzedAt
		v.AnalyzedAt = &at
	}
	return v
}
