// Package config holds the runtime configuration of the care monitor.
//
// Values come from DefaultConfig, then an optional YAML file, then the
// environment. Command-line flags in cmd/ are applied last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceFirebase = "firebase"
	SourcePostgres = "postgres"
	SourceRedis    = "redis"
	SourceDynamoDB = "dynamodb"
	SourceMQTT     = "mqtt"
)

// Recorder kinds.
const (
	RecorderNone  = ""
	RecorderFile  = "file"
	RecorderMinio = "minio"
)

type Config struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"` // empty serves /metrics on Addr
	LogLevel    string `yaml:"log_level"`
	LogColor    bool   `yaml:"log_color"`
	AssetsDir   string `yaml:"assets_dir"`   // optional overrides for the built-in page assets
	AllowOrigin string `yaml:"allow_origin"` // CORS origin for /api, empty disables

	PollInterval  time.Duration `yaml:"poll_interval"`
	CheckInterval time.Duration `yaml:"check_interval"`
	AutoCheck     bool          `yaml:"auto_check"`

	Source   SourceConfig   `yaml:"source"`
	Camera   CameraConfig   `yaml:"camera"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Alert    AlertConfig    `yaml:"alert"`
	Recorder RecorderConfig `yaml:"recorder"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`
}

type SourceConfig struct {
	Kind     string         `yaml:"kind"`
	Timeout  time.Duration  `yaml:"timeout"`
	Firebase FirebaseConfig `yaml:"firebase"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

type FirebaseConfig struct {
	APIKey      string `yaml:"api_key"`
	DatabaseURL string `yaml:"database_url"`
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	Path        string `yaml:"path"`
	AuthURL     string `yaml:"auth_url"`  // Identity Toolkit base, overridable for emulators
	TokenURL    string `yaml:"token_url"` // secure token base
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type DynamoDBConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Table    string `yaml:"table"`
	DeviceID string `yaml:"device_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type CameraConfig struct {
	StreamURL     string        `yaml:"stream_url"`
	CaptureURL    string        `yaml:"capture_url"` // single-JPEG endpoint, optional
	Rotation      int           `yaml:"rotation"`    // clockwise degrees: 0, 90, 180, 270
	MaxWidth      int           `yaml:"max_width"`
	Quality       int           `yaml:"quality"`
	HeaderTimeout time.Duration `yaml:"header_timeout"`
}

type AnalysisConfig struct {
	Endpoint  string        `yaml:"endpoint"` // empty uses this server's /api/analyze-image
	Timeout   time.Duration `yaml:"timeout"`
	ProjectID string        `yaml:"project_id"`
	Location  string        `yaml:"location"`
	Model     string        `yaml:"model"`
}

type AlertConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	LogTopic string `yaml:"log_topic"`
	ClientID string `yaml:"client_id"`
}

type RecorderConfig struct {
	Kind      string `yaml:"kind"`
	Dir       string `yaml:"dir"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type WebRTCConfig struct {
	Enabled    bool     `yaml:"enabled"`
	MaxClients int      `yaml:"max_clients"`
	ICEServers []string `yaml:"ice_servers"`
}

// DefaultConfig returns a config that matches the deployed device setup.
func DefaultConfig() Config {
	return Config{
		Addr:          ":3000",
		LogLevel:      "info",
		LogColor:      true,
		PollInterval:  5 * time.Second,
		CheckInterval: 5 * time.Second,
		AutoCheck:     false,
		Source: SourceConfig{
			Kind:    SourceFirebase,
			Timeout: 10 * time.Second,
			Firebase: FirebaseConfig{
				Path:     "live",
				AuthURL:  "https://identitytoolkit.googleapis.com/v1",
				TokenURL: "https://securetoken.googleapis.com/v1",
			},
			Postgres: PostgresConfig{Table: "live_status"},
			Redis:    RedisConfig{Addr: "localhost:6379", Key: "live"},
			DynamoDB: DynamoDBConfig{Region: "us-east-1", Table: "live_status", DeviceID: "esp32-01"},
			MQTT:     MQTTConfig{Broker: "tcp://localhost:1883", Topic: "sensors/live", ClientID: "care-monitor-source"},
		},
		Camera: CameraConfig{
			StreamURL:     "http://172.20.10.9/stream",
			Rotation:      90,
			MaxWidth:      1024,
			Quality:       85,
			HeaderTimeout: 10 * time.Second,
		},
		Analysis: AnalysisConfig{
			Timeout:  30 * time.Second,
			Location: "us-central1",
			Model:    "gemini-2.5-flash",
		},
		Alert: AlertConfig{
			Topic:    "alerts/fall",
			LogTopic: "logs/care-monitor",
			ClientID: "care-monitor-alerts",
		},
		Recorder: RecorderConfig{
			Dir:    "./falls",
			Bucket: "fall-evidence",
		},
		WebRTC: WebRTCConfig{
			Enabled:    true,
			MaxClients: 8,
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// Load reads an optional YAML file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("HTTP_ADDR", c.Addr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AllowOrigin = getEnv("ALLOW_ORIGIN", c.AllowOrigin)

	c.Source.Kind = getEnv("SOURCE_KIND", c.Source.Kind)
	c.Source.Firebase.APIKey = getEnv("FIREBASE_API_KEY", c.Source.Firebase.APIKey)
	c.Source.Firebase.DatabaseURL = getEnv("FIREBASE_DATABASE_URL", c.Source.Firebase.DatabaseURL)
	c.Source.Firebase.Email = getEnv("FIREBASE_USER_EMAIL", c.Source.Firebase.Email)
	c.Source.Firebase.Password = getEnv("FIREBASE_USER_PASSWORD", c.Source.Firebase.Password)
	c.Source.Postgres.DSN = getEnv("DATABASE_URL", c.Source.Postgres.DSN)
	c.Source.Redis.Addr = getEnv("REDIS_ADDR", c.Source.Redis.Addr)
	c.Source.Redis.Password = getEnv("REDIS_PASSWORD", c.Source.Redis.Password)
	c.Source.DynamoDB.Region = getEnv("AWS_REGION", c.Source.DynamoDB.Region)
	c.Source.DynamoDB.Table = getEnv("DYNAMODB_TABLE", c.Source.DynamoDB.Table)
	c.Source.MQTT.Broker = getEnv("MQTT_BROKER", c.Source.MQTT.Broker)

	c.Camera.StreamURL = getEnv("CAMERA_STREAM_URL", c.Camera.StreamURL)
	c.Camera.CaptureURL = getEnv("CAMERA_CAPTURE_URL", c.Camera.CaptureURL)
	c.Camera.Rotation = getEnvInt("CAMERA_ROTATION", c.Camera.Rotation)

	c.Analysis.Endpoint = getEnv("ANALYSIS_ENDPOINT", c.Analysis.Endpoint)
	c.Analysis.ProjectID = getEnv("GCP_PROJECT_ID", c.Analysis.ProjectID)

	c.Alert.Broker = getEnv("ALERT_MQTT_BROKER", c.Alert.Broker)

	c.Recorder.Kind = getEnv("RECORDER_KIND", c.Recorder.Kind)
	c.Recorder.Endpoint = getEnv("MINIO_ENDPOINT", c.Recorder.Endpoint)
	c.Recorder.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Recorder.AccessKey)
	c.Recorder.SecretKey = getEnv("MINIO_SECRET_KEY", c.Recorder.SecretKey)
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.Source.Kind == "" {
		c.Source.Kind = def.Source.Kind
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = def.Source.Timeout
	}
	if c.Source.Firebase.Path == "" {
		c.Source.Firebase.Path = def.Source.Firebase.Path
	}
	if c.Source.Firebase.AuthURL == "" {
		c.Source.Firebase.AuthURL = def.Source.Firebase.AuthURL
	}
	if c.Source.Firebase.TokenURL == "" {
		c.Source.Firebase.TokenURL = def.Source.Firebase.TokenURL
	}
	if c.Camera.Quality <= 0 || c.Camera.Quality > 100 {
		c.Camera.Quality = def.Camera.Quality
	}
	if c.Camera.HeaderTimeout <= 0 {
		c.Camera.HeaderTimeout = def.Camera.HeaderTimeout
	}
	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = def.Analysis.Timeout
	}
	if c.Analysis.Location == "" {
		c.Analysis.Location = def.Analysis.Location
	}
	if c.Analysis.Model == "" {
		c.Analysis.Model = def.Analysis.Model
	}
	if c.Alert.Topic == "" {
		c.Alert.Topic = def.Alert.Topic
	}
	if c.Recorder.Dir == "" {
		c.Recorder.Dir = def.Recorder.Dir
	}
	if c.Recorder.Bucket == "" {
		c.Recorder.Bucket = def.Recorder.Bucket
	}
	if c.WebRTC.MaxClients <= 0 {
		c.WebRTC.MaxClients = def.WebRTC.MaxClients
	}
}

// Validate checks the fields every deployment needs. Backend credentials are
// checked when the backend is built.
func (c *Config) Validate() error {
	if c.Camera.StreamURL == "" {
		return fmt.Errorf("camera.stream_url is required")
	}
	switch c.Camera.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera.rotation must be 0, 90, 180 or 270, got %d", c.Camera.Rotation)
	}
	if c.Camera.MaxWidth < 0 {
		return fmt.Errorf("camera.max_width must not be negative")
	}
	switch c.Source.Kind {
	case SourceFirebase, SourcePostgres, SourceRedis, SourceDynamoDB, SourceMQTT:
	default:
		return fmt.Errorf("source.kind %q is not supported", c.Source.Kind)
	}
	switch c.Recorder.Kind {
	case RecorderNone, RecorderFile, RecorderMinio:
	default:
		return fmt.Errorf("recorder.kind %q is not supported", c.Recorder.Kind)
	}
	if c.Recorder.Kind == RecorderMinio && c.Recorder.Endpoint == "" {
		return fmt.Errorf("recorder.endpoint is required for minio")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
