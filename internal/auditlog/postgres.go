// Package auditlog persists DetectionCoordinator lifecycle transitions to
// an optional Postgres audit trail, immutable after insert.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds the Postgres connection parameters.
type Config struct {
	Host, Database, Username, Password, SSLMode string
	Port                                         int
}

// Record is one StateChanged audit entry.
type Record struct {
	Timestamp  time.Time
	InstanceID string
	From, To   string
}

// Log writes StateChanged records to an append-only, trigger-protected
// Postgres table.
type Log struct {
	db *sql.DB
}

func Open(cfg Config) (*Log, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: ping: %w", err)
	}

	l := &Log{db: db}
	if err := l.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sensor_state_changes (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		instance_id VARCHAR(255) NOT NULL,
		from_state VARCHAR(50) NOT NULL,
		to_state VARCHAR(50) NOT NULL
	);

	CREATE OR REPLACE FUNCTION prevent_sensor_audit_modifications()
	RETURNS TRIGGER AS $$
	BEGIN
		RAISE EXCEPTION 'sensor_state_changes rows cannot be modified or deleted';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS sensor_state_changes_immutable ON sensor_state_changes;
	CREATE TRIGGER sensor_state_changes_immutable
	BEFORE UPDATE OR DELETE ON sensor_state_changes
	FOR EACH ROW
	EXECUTE FUNCTION prevent_sensor_audit_modifications();

	CREATE INDEX IF NOT EXISTS idx_sensor_state_changes_timestamp ON sensor_state_changes(timestamp DESC);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("auditlog: init schema: %w", err)
	}
	return nil
}

// Append inserts one StateChanged record.
func (l *Log) Append(ctx context.Context, r Record) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sensor_state_changes (timestamp, instance_id, from_state, to_state) VALUES ($1, $2, $3, $4)`,
		r.Timestamp, r.InstanceID, r.From, r.To,
	)
	if err != nil {
		return fmt.Errorf("auditlog: append: %w", err)
	}
	return nil
}

// Health reports basic connection pool health.
func (l *Log) Health(ctx context.Context) (map[string]string, error) {
	var version string
	if err := l.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return nil, fmt.Errorf("auditlog: health query: %w", err)
	}
	stats := l.db.Stats()
	return map[string]string{
		"status":           "healthy",
		"version":          version,
		"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
	}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}
