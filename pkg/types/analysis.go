package types

import "time"

// TimeoutDescription is reported when the analysis service does not answer in time.
const TimeoutDescription = "Analysis timeout - please try again"

// AnalysisResult mirrors the JSON shape returned by /api/analyze-image.
type AnalysisResult struct {
	IsFallen    bool     `json:"isFallen"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Description string   `json:"description"`
}

// TimeoutResult is the safe negative default used when a check times out.
func TimeoutResult() AnalysisResult {
	return AnalysisResult{IsFallen: false, Description: TimeoutDescription}
}

// FallEvent is emitted once per fall (rising edge of IsFallen).
type FallEvent struct {
	ID         string         `json:"id"`
	DetectedAt time.Time      `json:"detected_at"`
	Result     AnalysisResult `json:"result"`
	Frame      []byte         `json:"-"` // JPEG that produced the result
}
