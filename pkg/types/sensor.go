package types

import "time"

// SensorSnapshot is the latest reading published by the monitoring device.
type SensorSnapshot struct {
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %RH
	Flame       bool      `json:"flame"`       // KY-026
	Vibration   bool      `json:"vibration"`   // KY-002
	Light       int       `json:"light"`
	Sound       int       `json:"sound"`
	ObservedAt  time.Time `json:"observed_at,omitempty"` // zero when the record has no timestamp
}

// SameReading reports whether two snapshots would render identically.
func (s SensorSnapshot) SameReading(o SensorSnapshot) bool {
	return s.Temperature == o.Temperature &&
		s.Humidity == o.Humidity &&
		s.Flame == o.Flame &&
		s.Vibration == o.Vibration &&
		s.Light == o.Light &&
		s.Sound == o.Sound &&
		s.ObservedAt.Equal(o.ObservedAt)
}

// StreamConnectionState tracks whether the camera feed last loaded.
type StreamConnectionState string

const (
	StreamConnected    StreamConnectionState = "connected"
	StreamDisconnected StreamConnectionState = "disconnected"
)
