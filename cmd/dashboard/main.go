package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartcare-lab/care-monitor/internal/alert"
	"github.com/smartcare-lab/care-monitor/internal/analysis"
	"github.com/smartcare-lab/care-monitor/internal/capture"
	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/internal/dashboard"
	"github.com/smartcare-lab/care-monitor/internal/fallcheck"
	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/internal/recorder"
	"github.com/smartcare-lab/care-monitor/internal/relay"
	"github.com/smartcare-lab/care-monitor/internal/source"
	"github.com/smartcare-lab/care-monitor/internal/webrtc"
)

var (
	// Command-line flags. Non-empty values override the config file.
	configPath  = flag.String("config", "", "YAML config file (optional)")
	httpAddr    = flag.String("http", "", "HTTP server address (default :3000)")
	metricsAddr = flag.String("metrics", "", "Separate metrics server address (default: /metrics on -http)")
	streamURL   = flag.String("camera", "", "Camera MJPEG stream URL")
	assetsDir   = flag.String("assets", "", "Directory overriding the built-in page assets")
	autoCheck   = flag.Bool("auto-check", false, "Start with automatic fall checks enabled")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	var alertClient mqtt.Client
	if cfg.Alert.Broker != "" {
		alertClient, err = alert.Dial(cfg.Alert)
		if err != nil {
			logger.Warn("Main", "Alerts disabled: %v", err)
		} else {
			// Color codes are noise on the broker, so the tee is plain text.
			logger.Init(level, io.MultiWriter(os.Stderr, alert.NewLogWriterTopic(alertClient, cfg.Alert.LogTopic)), false)
		}
	}

	logger.Info("Main", "Care monitor starting...")
	logger.Info("Main", "Log level: %s, source: %s, camera: %s", level, cfg.Source.Kind, cfg.Camera.StreamURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	src, err := source.New(ctx, cfg.Source)
	if err != nil {
		log.Fatalf("Failed to open %s source: %v", cfg.Source.Kind, err)
	}

	camera := &capture.Camera{
		StreamURL:  cfg.Camera.StreamURL,
		CaptureURL: cfg.Camera.CaptureURL,
		Rotation:   cfg.Camera.Rotation,
		MaxWidth:   cfg.Camera.MaxWidth,
		Quality:    cfg.Camera.Quality,
	}

	var analyzeHandler http.Handler
	if cfg.Analysis.ProjectID != "" {
		model, err := analysis.NewVertexModel(ctx, cfg.Analysis.ProjectID, cfg.Analysis.Location, cfg.Analysis.Model)
		if err != nil {
			log.Fatalf("Failed to create analysis model: %v", err)
		}
		analyzeHandler = analysis.NewHandler(model, cfg.Analysis.Timeout)
		logger.Info("Main", "Serving /api/analyze-image with %s", cfg.Analysis.Model)
	}

	var analyzer fallcheck.Analyzer
	switch {
	case cfg.Analysis.Endpoint != "":
		analyzer = analysis.NewClient(cfg.Analysis.Endpoint, cfg.Analysis.Timeout, m)
	case analyzeHandler != nil:
		analyzer = analysis.NewClient(localURL(cfg.Addr, "/api/analyze-image"), cfg.Analysis.Timeout, m)
	default:
		logger.Warn("Main", "No analysis endpoint or project configured, fall checks disabled")
	}

	var notifiers []fallcheck.Notifier
	if alertClient != nil {
		notifiers = append(notifiers, alert.NewNotifier(alertClient, cfg.Alert.Topic))
	}
	rec, err := recorder.Open(ctx, cfg.Recorder)
	if err != nil {
		log.Fatalf("Failed to open recorder: %v", err)
	}
	if rec != nil {
		notifiers = append(notifiers, rec)
	}

	opts := dashboard.ViewOptions{
		Source:        src,
		Capturer:      camera,
		Analyzer:      analyzer,
		PollInterval:  cfg.PollInterval,
		PollTimeout:   cfg.Source.Timeout,
		CheckInterval: cfg.CheckInterval,
		AutoCheck:     cfg.AutoCheck,
		Notifiers:     notifiers,
		Metrics:       m,
	}
	view := dashboard.NewView(opts)

	proxy := relay.New(cfg.Camera.StreamURL, relay.Options{
		HeaderTimeout: cfg.Camera.HeaderTimeout,
		Metrics:       m,
		Reporter:      view.State,
	})

	var webrtcSrv *webrtc.Server
	serverOpts := dashboard.Options{
		View:         view,
		Relay:        proxy,
		Analyzer:     analyzeHandler,
		Capturer:     camera,
		Metrics:      m,
		AssetsDir:    cfg.AssetsDir,
		AllowOrigin:  cfg.AllowOrigin,
		ServeMetrics: cfg.MetricsAddr == "",
	}
	if cfg.WebRTC.Enabled {
		webrtcSrv = webrtc.NewServer(view.Broadcaster, cfg.WebRTC.ICEServers, cfg.WebRTC.MaxClients, m)
		serverOpts.WebRTC = webrtcSrv
	}
	dash := dashboard.NewServer(serverOpts)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           dash.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(logger.Writer(logger.WARN, "HTTP"), "", 0),
	}

	view.Start(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Metrics server listening on %s", cfg.MetricsAddr)
			if err := m.StartServer(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Dashboard listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	// Live streams never finish on their own; stopping the view closes them
	// before the HTTP server waits for handlers.
	view.Stop()
	if webrtcSrv != nil {
		_ = webrtcSrv.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}

	if rec != nil {
		if err := rec.Close(); err != nil {
			logger.Warn("Main", "Recorder close: %v", err)
		}
	}
	if err := src.Close(); err != nil {
		logger.Warn("Main", "Source close: %v", err)
	}
	logger.Info("Main", "Stopped")
	if alertClient != nil {
		alertClient.Disconnect(250)
	}
}

func applyFlags(cfg *config.Config) {
	if *httpAddr != "" {
		cfg.Addr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *streamURL != "" {
		cfg.Camera.StreamURL = *streamURL
	}
	if *assetsDir != "" {
		cfg.AssetsDir = *assetsDir
	}
	if *autoCheck {
		cfg.AutoCheck = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if !*logColor {
		cfg.LogColor = false
	}
}

// localURL addresses this process's own listener.
func localURL(addr, path string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost" + addr + path
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}
