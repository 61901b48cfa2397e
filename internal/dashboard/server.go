package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/smartcare-lab/care-monitor/internal/fallcheck"
	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

// OfferHandler answers WebRTC offers for the live data channel.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	ClientCount() int
}

type Options struct {
	View     *View
	Relay    http.Handler // GET /api/camera-proxy
	Analyzer http.Handler // POST /api/analyze-image
	Capturer fallcheck.Capturer
	WebRTC   OfferHandler
	Metrics  *metrics.Metrics

	AssetsDir    string // optional on-disk overrides for /assets/
	AllowOrigin  string // CORS origin for the API, empty to disable
	ServeMetrics bool   // mount /metrics on this router
}

// Server serves the dashboard page and its API.
type Server struct {
	opts        Options
	view        *View
	state       *State
	broadcaster *StatusBroadcaster
	checker     *fallcheck.Checker
	webrtc      OfferHandler
	metrics     *metrics.Metrics
	started     time.Time
}

func NewServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Server{
		opts:        opts,
		view:        opts.View,
		state:       opts.View.State,
		broadcaster: opts.View.Broadcaster,
		checker:     opts.View.Checker,
		webrtc:      opts.WebRTC,
		metrics:     opts.Metrics,
		started:     time.Now(),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", newAssetHandler(s.opts.AssetsDir)))
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.opts.ServeMetrics {
		r.Handle("/metrics", s.metrics.Handler())
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.cors)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	api.HandleFunc("/stream-state", s.handleStreamState).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/fall-check", s.handleFallCheckStatus).Methods(http.MethodGet)
	api.HandleFunc("/fall-check", s.handleFallCheck).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/fall-check/auto", s.handleFallCheckAuto).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/webrtc/offer", s.handleWebRTCOffer).Methods(http.MethodPost, http.MethodOptions)
	if s.opts.Relay != nil {
		api.Handle("/camera-proxy", s.opts.Relay).Methods(http.MethodGet, http.MethodHead)
	}
	if s.opts.Analyzer != nil {
		api.Handle("/analyze-image", s.opts.Analyzer).Methods(http.MethodPost, http.MethodOptions)
	}

	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.opts.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.state.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	useProtobuf := wantsProtobuf(r)

	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	s.metrics.LiveClients.Add(1)
	defer s.metrics.LiveClients.Add(-1)

	streamStatusEvents(r.Context(), w, eventCh, useProtobuf)
}

func (s *Server) handleStreamState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Connected *bool `json:"connected"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil || req.Connected == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid stream state"}, http.StatusBadRequest)
		return
	}

	st := types.StreamDisconnected
	if *req.Connected {
		st = types.StreamConnected
	}
	s.state.SetStreamState(st)
	writeJSON(w, map[string]any{"stream": st})
}

// handleSnapshot serves the frame a fall check would analyze, or colour
// bars when the camera cannot be reached.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	var frame []byte
	var err error
	if s.opts.Capturer != nil {
		frame, err = s.opts.Capturer.Capture(r.Context())
	} else {
		err = errors.New("no camera configured")
	}
	if err != nil {
		logger.Debug("Snapshot", "Capture failed, serving placeholder: %v", err)
		frame, err = blankJPEG()
		if err != nil {
			http.Error(w, "Failed to render frame", http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Frame-Source", "placeholder")
	} else {
		w.Header().Set("X-Frame-Source", "camera")
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(frame)
}

func (s *Server) handleFallCheckStatus(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, map[string]any{"enabled": false})
		return
	}
	view := s.state.Snapshot()
	writeJSON(w, map[string]any{
		"enabled":   true,
		"checker":   s.checker.Status(),
		"analysis":  view.Analysis,
		"analyzing": view.Analyzing,
	})
}

func (s *Server) handleFallCheck(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Fall check not configured"}, http.StatusServiceUnavailable)
		return
	}
	res, err := s.checker.CheckNow(r.Context())
	switch {
	case errors.Is(err, fallcheck.ErrStopped):
		writeJSONWithStatus(w, map[string]any{"error": "Shutting down"}, http.StatusServiceUnavailable)
	case err != nil:
		writeJSONWithStatus(w, map[string]any{"error": "Fall check failed"}, http.StatusBadGateway)
	default:
		writeJSON(w, res)
	}
}

func (s *Server) handleFallCheckAuto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil || req.Enabled == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid request"}, http.StatusBadRequest)
		return
	}
	if !s.view.SetAutoCheck(*req.Enabled) {
		writeJSONWithStatus(w, map[string]any{"error": "Fall check not configured"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.checker.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if err != nil {
		logger.Error("WebRTC", "Offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Failed to handle offer"}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
