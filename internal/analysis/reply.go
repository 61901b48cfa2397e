package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/smartcare-lab/care-monitor/pkg/types"
)

// Prompt is sent with every frame.
const Prompt = `
Analyze this image for safety monitoring.
Check if there is a person who has FALLEN on the floor.
Return a JSON object: { "isFallen": boolean, "confidence": number, "description": "string" }
`

type wireResult struct {
	IsFallen    *bool    `json:"isFallen"`
	Confidence  *float64 `json:"confidence"`
	Description string   `json:"description"`
}

func (w wireResult) result() (types.AnalysisResult, error) {
	if w.IsFallen == nil {
		return types.AnalysisResult{}, errors.New("missing isFallen")
	}
	return types.AnalysisResult{
		IsFallen:    *w.IsFallen,
		Confidence:  normalizeConfidence(w.Confidence),
		Description: w.Description,
	}, nil
}

// ParseModelReply extracts the result JSON from a model reply, tolerating
// markdown code fences around it.
func ParseModelReply(text string) (types.AnalysisResult, error) {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	// models sometimes wrap the object in prose
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start > 0 && end > start {
		text = text[start : end+1]
	}

	var w wireResult
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("parse model reply: %w", err)
	}
	res, err := w.result()
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("parse model reply: %w", err)
	}
	return res, nil
}

// normalizeConfidence maps percentages onto [0,1] and clamps the rest.
func normalizeConfidence(c *float64) *float64 {
	if c == nil || math.IsNaN(*c) || math.IsInf(*c, 0) {
		return nil
	}
	v := *c
	if v > 1 && v <= 100 {
		v /= 100
	}
	v = math.Max(0, math.Min(1, v))
	return &v
}
