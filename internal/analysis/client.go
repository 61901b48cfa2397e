package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

// DefaultTimeout bounds one analysis round trip.
const DefaultTimeout = 30 * time.Second

// Client submits frames to an analyze-image endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	metrics  *metrics.Metrics
}

func NewClient(endpoint string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.New()
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		timeout:  timeout,
		metrics:  m,
	}
}

// Check posts one JPEG frame. When the endpoint does not answer within the
// timeout it returns types.TimeoutResult() and a nil error. Any other failure
// is returned as an error. If ctx itself ends first, ctx.Err() is returned.
func (c *Client) Check(ctx context.Context, frame []byte) (types.AnalysisResult, error) {
	body, err := json.Marshal(map[string]string{"image": EncodeDataURL("image/jpeg", frame)})
	if err != nil {
		return types.AnalysisResult{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() { c.metrics.ObserveAnalysis(time.Since(start)) }()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.AnalysisResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.classify(ctx, cctx, fmt.Errorf("analysis request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.classify(ctx, cctx, fmt.Errorf("analysis response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return types.AnalysisResult{}, fmt.Errorf("analysis: status %d: %s", resp.StatusCode, e.Error)
		}
		return types.AnalysisResult{}, fmt.Errorf("analysis: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("analysis: malformed response: %w", err)
	}
	res, err := w.result()
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("analysis: malformed response: %w", err)
	}
	return res, nil
}

func (c *Client) classify(parent, cctx context.Context, err error) (types.AnalysisResult, error) {
	if parent.Err() != nil {
		return types.AnalysisResult{}, parent.Err()
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		c.metrics.ChecksTimedOut.Add(1)
		return types.TimeoutResult(), nil
	}
	return types.AnalysisResult{}, err
}
