package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartcare-lab/care-monitor/internal/logger"
)

var log = logger.Scope("Analysis")

const maxRequestBytes = 16 << 20

// Handler serves POST /api/analyze-image.
type Handler struct {
	model   Model
	timeout time.Duration
}

// NewHandler wraps model. A nil model answers every request with 500.
func NewHandler(model Model, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Handler{model: model, timeout: timeout}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		log.Warn("Invalid request body: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Error"}, http.StatusInternalServerError)
		return
	}
	if req.Image == "" {
		writeJSONWithStatus(w, map[string]any{"error": "No image"}, http.StatusBadRequest)
		return
	}

	mimeType, data, err := DecodeDataURL(req.Image)
	if errors.Is(err, ErrNoImage) {
		writeJSONWithStatus(w, map[string]any{"error": "No image"}, http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Warn("%v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Error"}, http.StatusInternalServerError)
		return
	}

	if h.model == nil {
		log.Error("Vision model not configured")
		writeJSONWithStatus(w, map[string]any{"error": "Error"}, http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	text, err := h.model.Analyze(ctx, mimeType, data)
	if err != nil {
		log.Error("Model call failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Error"}, http.StatusInternalServerError)
		return
	}
	log.Debug("Model reply: %s", text)

	result, err := ParseModelReply(text)
	if err != nil {
		log.Error("%v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Error"}, http.StatusInternalServerError)
		return
	}
	writeJSONWithStatus(w, result, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
