package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const maxFrameBytes = 8 << 20

// Camera fetches frames from the device. With a capture URL it requests a
// single JPEG; otherwise it reads the first part of the MJPEG stream.
type Camera struct {
	StreamURL  string
	CaptureURL string
	Rotation   int
	MaxWidth   int
	Quality    int
	Client     *http.Client
}

func (c *Camera) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Capture grabs the current frame and returns it rotated and JPEG encoded.
func (c *Camera) Capture(ctx context.Context) ([]byte, error) {
	raw, err := c.Grab(ctx)
	if err != nil {
		return nil, err
	}
	return Process(raw, c.Rotation, c.MaxWidth, c.Quality)
}

// Grab returns the camera's current JPEG as served, without processing.
func (c *Camera) Grab(ctx context.Context) ([]byte, error) {
	if c.CaptureURL != "" {
		return c.grabStill(ctx)
	}
	if c.StreamURL == "" {
		return nil, errors.New("capture: no camera url")
	}
	return c.grabStreamFrame(ctx)
}

func (c *Camera) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("capture %s: status %d", url, resp.StatusCode)
	}
	return resp, nil
}

func (c *Camera) grabStill(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.CaptureURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readFrame(resp.Body)
}

func (c *Camera) grabStreamFrame(ctx context.Context) ([]byte, error) {
	// the stream never ends on its own
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.get(ctx, c.StreamURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	boundary := "frame"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && params["boundary"] != "" {
		boundary = strings.TrimPrefix(params["boundary"], "--")
	}

	part, err := multipart.NewReader(resp.Body, boundary).NextPart()
	if err != nil {
		return nil, fmt.Errorf("capture: read stream part: %w", err)
	}
	return readFrame(part)
}

func readFrame(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFrameBytes+1))
	if err != nil {
		return nil, fmt.Errorf("capture: read frame: %w", err)
	}
	if len(data) > maxFrameBytes {
		return nil, errors.New("capture: frame too large")
	}
	if len(data) == 0 {
		return nil, errors.New("capture: empty frame")
	}
	return data, nil
}
