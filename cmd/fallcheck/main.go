// Command fallcheck runs one fall check from the command line and prints the
// result as JSON. The frame comes from a JPEG file or from the live camera.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartcare-lab/care-monitor/internal/analysis"
	"github.com/smartcare-lab/care-monitor/internal/capture"
	"github.com/smartcare-lab/care-monitor/internal/logger"
)

var (
	endpoint  = flag.String("endpoint", "http://localhost:3000/api/analyze-image", "analyze-image endpoint")
	file      = flag.String("file", "", "JPEG file to check instead of a live frame")
	streamURL = flag.String("camera", "http://172.20.10.9/stream", "Camera MJPEG stream URL")
	rotation  = flag.Int("rotate", 90, "Clockwise rotation applied to the frame (0, 90, 180, 270)")
	maxWidth  = flag.Int("max-width", 1024, "Downscale frames wider than this (0 keeps the size)")
	timeout   = flag.Duration("timeout", analysis.DefaultTimeout, "Analysis timeout")
	saveFrame = flag.String("save", "", "Write the submitted frame to this path")
	logLevel  = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frame, err := loadFrame(ctx)
	if err != nil {
		log.Fatalf("Failed to get frame: %v", err)
	}
	if *saveFrame != "" {
		if err := os.WriteFile(*saveFrame, frame, 0o644); err != nil {
			log.Fatalf("Failed to save frame: %v", err)
		}
	}

	start := time.Now()
	res, err := analysis.NewClient(*endpoint, *timeout, nil).Check(ctx, frame)
	if err != nil {
		log.Fatalf("Fall check failed: %v", err)
	}
	logger.Info("FallCheck", "Analysis took %v", time.Since(start).Round(time.Millisecond))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("Failed to write result: %v", err)
	}
	if res.IsFallen {
		os.Exit(2)
	}
}

func loadFrame(ctx context.Context) ([]byte, error) {
	if *file == "" {
		cam := &capture.Camera{
			StreamURL: *streamURL,
			Rotation:  *rotation,
			MaxWidth:  *maxWidth,
		}
		return cam.Capture(ctx)
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return nil, err
	}
	return capture.Process(raw, *rotation, *maxWidth, 0)
}
