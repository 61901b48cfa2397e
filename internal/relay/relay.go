// Package relay proxies the camera's MJPEG stream to browsers so the
// dashboard can be served from one origin.
package relay

import (
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

var log = logger.Scope("Relay")

// DefaultContentType is sent unless the camera declares its own multipart boundary.
const DefaultContentType = "multipart/x-mixed-replace; boundary=frame"

// StateReporter is told whether the last relay attempt reached the camera.
type StateReporter interface {
	SetStreamState(state types.StreamConnectionState)
}

type Options struct {
	// HeaderTimeout bounds the wait for upstream response headers. The body
	// is an endless stream and is never bounded.
	HeaderTimeout time.Duration
	Client        *http.Client
	Metrics       *metrics.Metrics
	Reporter      StateReporter
}

// Handler serves GET /api/camera-proxy. Each request opens its own upstream
// connection; nothing is shared between requests and nothing is retried.
type Handler struct {
	upstream string
	client   *http.Client
	metrics  *metrics.Metrics
	reporter StateReporter
}

func New(upstream string, opts Options) *Handler {
	client := opts.Client
	if client == nil {
		if opts.HeaderTimeout <= 0 {
			opts.HeaderTimeout = 10 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = opts.HeaderTimeout
		transport.DialContext = (&net.Dialer{Timeout: opts.HeaderTimeout, KeepAlive: 30 * time.Second}).DialContext
		client = &http.Client{Transport: transport}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Handler{
		upstream: upstream,
		client:   client,
		metrics:  opts.Metrics,
		reporter: opts.Reporter,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.metrics.RelaySessions.Add(1)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.upstream, nil)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "Stream error", err)
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "Stream error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.fail(w, http.StatusBadGateway, "Stream not available", errors.New(resp.Status))
		return
	}

	h.report(types.StreamConnected)

	header := w.Header()
	header.Set("Content-Type", contentType(resp.Header.Get("Content-Type")))
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	h.metrics.RelayActive.Add(1)
	defer h.metrics.RelayActive.Add(-1)

	n, err := copyFlush(w, resp.Body)
	h.metrics.RelayBytes.Add(uint64(n))
	switch {
	case err == nil, r.Context().Err() != nil:
		log.Debug("Relay closed after %d bytes", n)
	default:
		log.Warn("Relay interrupted after %d bytes: %v", n, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, body string, err error) {
	h.metrics.RelayErrors.Add(1)
	h.report(types.StreamDisconnected)
	log.Warn("Camera %s: %v", h.upstream, err)
	http.Error(w, body, status)
}

func (h *Handler) report(state types.StreamConnectionState) {
	if h.reporter != nil {
		h.reporter.SetStreamState(state)
	}
}

// contentType forwards the camera's multipart header when it names a
// boundary, since the relayed bytes carry that boundary.
func contentType(upstream string) string {
	mediaType, params, err := mime.ParseMediaType(upstream)
	if err == nil && mediaType == "multipart/x-mixed-replace" && params["boundary"] != "" {
		return upstream
	}
	return DefaultContentType
}

// copyFlush copies src to w unchanged, flushing after every chunk so
// frames reach the browser as they arrive.
func copyFlush(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, err
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
