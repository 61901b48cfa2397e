package dashboard

import (
	"sync"
	"testing"
	"time"

	"github.com/smartcare-lab/care-monitor/pkg/types"
)

func TestPublishSnapshotIsIdempotent(t *testing.T) {
	s := NewState()
	var pushes []StatusView
	s.OnChange(func(v StatusView) { pushes = append(pushes, v) })

	snap := types.SensorSnapshot{Temperature: 23.5, Humidity: 55, Light: 300}
	if !s.PublishSnapshot(snap, time.Now()) {
		t.Fatalf("first snapshot must be a change")
	}
	if s.PublishSnapshot(snap, time.Now()) {
		t.Fatalf("identical snapshot must not be a change")
	}
	if len(pushes) != 1 || pushes[0].Version != 1 {
		t.Fatalf("expected one push at version 1, got %+v", pushes)
	}

	snap.Flame = true
	if !s.PublishSnapshot(snap, time.Now()) {
		t.Fatalf("changed snapshot must be published")
	}
	if v := s.Snapshot(); v.Version != 2 || !v.Sensors.Flame {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestUpdatedAtFallsBackToReceiveTime(t *testing.T) {
	s := NewState()
	received := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.PublishSnapshot(types.SensorSnapshot{Temperature: 20}, received)
	if v := s.Snapshot(); v.UpdatedAt == nil || !v.UpdatedAt.Equal(received) {
		t.Fatalf("expected receive time, got %v", v.UpdatedAt)
	}

	observed := received.Add(-time.Minute)
	s.PublishSnapshot(types.SensorSnapshot{Temperature: 21, ObservedAt: observed}, received)
	if v := s.Snapshot(); !v.UpdatedAt.Equal(observed) {
		t.Fatalf("expected device timestamp, got %v", v.UpdatedAt)
	}
}

func TestAnalyzingFlagCountsOverlappingChecks(t *testing.T) {
	s := NewState()
	s.BeginCheck()
	s.BeginCheck()
	s.EndCheck()
	if !s.Snapshot().Analyzing {
		t.Fatalf("one check still running")
	}
	s.EndCheck()
	if s.Snapshot().Analyzing {
		t.Fatalf("analyzing must clear when all checks end")
	}
	s.EndCheck()
	if s.Snapshot().Analyzing {
		t.Fatalf("extra EndCheck must not underflow")
	}
}

func TestFallCountersRisingEdge(t *testing.T) {
	s := NewState()
	fallen := types.AnalysisResult{IsFallen: true, Description: "on floor"}
	clear := types.AnalysisResult{Description: "standing"}

	steps := []struct {
		res    types.AnalysisResult
		rising bool
	}{
		{clear, false},
		{fallen, true},
		{fallen, false},
		{types.TimeoutResult(), false},
		{fallen, false},
		{clear, false},
		{fallen, true},
	}
	for i, step := range steps {
		if got := s.PublishAnalysis(step.res, time.Now()); got != step.rising {
			t.Fatalf("step %d: rising = %v, want %v", i, got, step.rising)
		}
	}
	v := s.Snapshot()
	if v.TodayFallCount != 2 || v.TotalFallCount != 2 {
		t.Fatalf("expected 2 falls, got today=%d total=%d", v.TodayFallCount, v.TotalFallCount)
	}
}

func TestTodayCounterResetsAtMidnight(t *testing.T) {
	s := NewState()
	now := time.Date(2026, 5, 4, 23, 59, 0, 0, time.Local)
	s.now = func() time.Time { return now }

	s.PublishAnalysis(types.AnalysisResult{IsFallen: true}, now)
	if v := s.Snapshot(); v.TodayFallCount != 1 {
		t.Fatalf("expected 1 fall today, got %d", v.TodayFallCount)
	}

	now = now.Add(2 * time.Minute)
	v := s.Snapshot()
	if v.TodayFallCount != 0 || v.TotalFallCount != 1 {
		t.Fatalf("after midnight: today=%d total=%d", v.TodayFallCount, v.TotalFallCount)
	}
}

func TestDisconnectClearsAnalysis(t *testing.T) {
	s := NewState()
	s.SetStreamState(types.StreamConnected)
	s.PublishAnalysis(types.AnalysisResult{Description: "empty room"}, time.Now())

	s.SetStreamState(types.StreamDisconnected)
	v := s.Snapshot()
	if v.Analysis != nil || v.AnalyzedAt != nil {
		t.Fatalf("analysis must be cleared on disconnect, got %+v", v.Analysis)
	}
	if v.Stream != types.StreamDisconnected {
		t.Fatalf("unexpected stream %q", v.Stream)
	}

	before := v.Version
	s.SetStreamState(types.StreamDisconnected)
	if s.Snapshot().Version != before {
		t.Fatalf("repeated state must not bump the version")
	}
}

func TestClosedStateDropsUpdates(t *testing.T) {
	s := NewState()
	s.Close()
	if s.PublishSnapshot(types.SensorSnapshot{Temperature: 30}, time.Now()) {
		t.Fatalf("closed state must drop snapshots")
	}
	if s.PublishAnalysis(types.AnalysisResult{IsFallen: true}, time.Now()) {
		t.Fatalf("closed state must drop analysis")
	}
	if v := s.Snapshot(); v.Sensors != nil || v.Analysis != nil || v.Version != 0 {
		t.Fatalf("unexpected view after close %+v", v)
	}
}

func TestConcurrentPublishIsSafe(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.PublishSnapshot(types.SensorSnapshot{Light: i}, time.Now())
			s.BeginCheck()
			s.EndCheck()
		}()
	}
	wg.Wait()
	if s.Snapshot().Analyzing {
		t.Fatalf("analyzing must be clear")
	}
}
