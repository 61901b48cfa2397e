// Package source reads the most recent sensor snapshot from the realtime
// store the monitoring device publishes to. Exactly one backend is active
// per process, chosen by config.SourceConfig.Kind.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

var (
	// ErrNoData means the store answered but holds no record yet.
	ErrNoData = errors.New("source: no data")
	// ErrNotConfigured means required credentials or addresses are missing.
	ErrNotConfigured = errors.New("source: not configured")
)

// Source yields the latest snapshot. Implementations are safe for
// concurrent use; overlapping Latest calls are allowed.
type Source interface {
	Latest(ctx context.Context) (types.SensorSnapshot, error)
	Close() error
}

// New builds the backend selected by cfg.Kind. The returned source owns its
// connections and session state; callers release it with Close.
func New(ctx context.Context, cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case config.SourceFirebase, "":
		return NewFirebase(cfg.Firebase, nil)
	case config.SourcePostgres:
		return OpenPostgres(cfg.Postgres)
	case config.SourceRedis:
		return OpenRedis(cfg.Redis)
	case config.SourceDynamoDB:
		return OpenDynamoDB(ctx, cfg.DynamoDB)
	case config.SourceMQTT:
		return OpenMQTT(cfg.MQTT)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
