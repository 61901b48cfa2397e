package source

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smartcare-lab/care-monitor/pkg/types"
)

// Values below this are unix seconds, above it unix milliseconds.
const millisThreshold = 1e11

// Normalize converts a raw record as stored by the device into a snapshot.
// Missing or non-numeric fields read as zero. flame and vibration are
// detected only for 1 or true. The timestamp is taken from "timestamp" or
// "updated_at" and left zero when absent or unparsable.
func Normalize(rec map[string]any) types.SensorSnapshot {
	snap := types.SensorSnapshot{
		Temperature: number(rec["temperature"]),
		Humidity:    number(rec["humidity"]),
		Flame:       detected(rec["flame"]),
		Vibration:   detected(rec["vibration"]),
		Light:       int(math.Round(number(rec["light"]))),
		Sound:       int(math.Round(number(rec["sound"]))),
	}
	if ts, ok := rec["timestamp"]; ok {
		snap.ObservedAt = timestamp(ts)
	}
	if snap.ObservedAt.IsZero() {
		if ts, ok := rec["updated_at"]; ok {
			snap.ObservedAt = timestamp(ts)
		}
	}
	return snap
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return finite(f)
	case string:
		return parseFloat(n)
	case []byte:
		return parseFloat(string(n))
	default:
		return 0
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return finite(f)
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func detected(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return number(v) == 1
}

func timestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f)
		}
		return time.Time{}
	case []byte:
		return timestamp(string(t))
	case nil:
		return time.Time{}
	default:
		return epoch(number(t))
	}
}

func epoch(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	if f < millisThreshold {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return time.UnixMilli(int64(f)).UTC()
}
