package dashboard

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostStats is the host section of /health. Fields stay zero when the
// platform does not expose them.
type HostStats struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	DiskUsedPct    float64 `json:"disk_used_percent"`
	ProcessRSSMB   float64 `json:"process_rss_mb"`
}

func readHostStats(ctx context.Context) HostStats {
	var stats HostStats

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stats.DiskUsedPct = du.UsedPercent
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessRSSMB = float64(mi.RSS) / 1024.0 / 1024.0
		}
	}
	return stats
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	view := s.state.Snapshot()
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"version":        view.Version,
		"stream":         view.Stream,
		"has_sensors":    view.Sensors != nil,
		"live_clients":   s.broadcaster.ClientCount(),
		"host":           readHostStats(ctx),
	}
	if s.webrtc != nil {
		payload["webrtc_clients"] = s.webrtc.ClientCount()
	}
	if s.checker != nil {
		payload["fall_check"] = s.checker.Status()
	}
	writeJSON(w, payload)
}
