package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

var liveColumns = []string{"temperature", "humidity", "flame", "vibration", "light", "sound", "updated_at"}

// Postgres reads the newest row of a live_status style table.
type Postgres struct {
	db    *sql.DB
	query string
}

// OpenPostgres opens a pool through the pgx stdlib driver.
func OpenPostgres(cfg config.PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn: %w", ErrNotConfigured)
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgres(db, cfg.Table), nil
}

// NewPostgres wraps an existing handle. table defaults to live_status.
func NewPostgres(db *sql.DB, table string) *Postgres {
	if table == "" {
		table = "live_status"
	}
	query := "SELECT temperature, humidity, flame, vibration, light, sound, updated_at FROM " +
		pgx.Identifier{table}.Sanitize() + " ORDER BY updated_at DESC LIMIT 1"
	return &Postgres{db: db, query: query}
}

func (p *Postgres) Latest(ctx context.Context) (types.SensorSnapshot, error) {
	vals := make([]any, len(liveColumns))
	dest := make([]any, len(liveColumns))
	for i := range vals {
		dest[i] = &vals[i]
	}

	if err := p.db.QueryRowContext(ctx, p.query).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.SensorSnapshot{}, ErrNoData
		}
		return types.SensorSnapshot{}, fmt.Errorf("query live status: %w", err)
	}

	rec := make(map[string]any, len(liveColumns))
	for i, col := range liveColumns {
		rec[col] = vals[i]
	}
	return Normalize(rec), nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
