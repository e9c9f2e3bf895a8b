package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"sakin-sensor/internal/secure"
)

// ClickHouseConfig configures the archival sink's connection pool.
type ClickHouseConfig struct {
	Host, Database, Username, Password string
	Port                                int
	UseTLS                              bool
	CertFile, KeyFile, CACertFile       string
	BatchSize                           int
	FlushInterval                       time.Duration
}

func (c ClickHouseConfig) withDefaults() ClickHouseConfig {
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 2 * time.Second
	}
	return c
}

// ClickHouseSink archives ThreatDetected and StatisticsSnapshot events into
// a MergeTree table, batched by size-or-interval, the same shape the
// teacher's database layer and DB handler use for batched ClickHouse
// writes (PrepareBatch/Append/Send on a ticker-driven flush).
type ClickHouseSink struct {
	conn driver.Conn
	cfg  ClickHouseConfig

	mu  sync.Mutex
	buf []Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClickHouseSink(cfg ClickHouseConfig) (*ClickHouseSink, error) {
	cfg = cfg.withDefaults()

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
	if cfg.UseTLS {
		tlsCfg, err := secure.LoadClientTLSConfig(secure.TLSConfig{
			CertFile: cfg.CertFile, KeyFile: cfg.KeyFile, CAFile: cfg.CACertFile,
		})
		if err != nil {
			return nil, fmt.Errorf("events: clickhouse tls: %w", err)
		}
		options.TLS = tlsCfg
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("events: clickhouse connect: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("events: clickhouse ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ClickHouseSink{conn: conn, cfg: cfg, ctx: ctx, cancel: cancel}

	if err := s.initSchema(context.Background()); err != nil {
		conn.Close()
		cancel()
		return nil, err
	}

	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

func (s *ClickHouseSink) initSchema(ctx context.Context) error {
	const threatEvents = `
	CREATE TABLE IF NOT EXISTS threat_events (
		id String,
		timestamp DateTime64(3),
		src_ip String,
		dst_ip String,
		src_port UInt16,
		dst_port UInt16,
		probability Float64,
		feature_snapshot Array(Float64)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (timestamp, src_ip, dst_ip)
	TTL timestamp + INTERVAL 90 DAY
	SETTINGS index_granularity = 8192
	`
	const statsSnapshots = `
	CREATE TABLE IF NOT EXISTS statistics_snapshots (
		timestamp DateTime64(3),
		packets_captured UInt64,
		packets_dropped UInt64,
		features_extracted UInt64,
		predictions_made UInt64,
		threats_detected UInt64,
		processing_errors UInt64,
		queue_high_watermark UInt64,
		runtime_seconds Float64
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY timestamp
	TTL timestamp + INTERVAL 90 DAY
	SETTINGS index_granularity = 8192
	`
	if err := s.conn.Exec(ctx, threatEvents); err != nil {
		return fmt.Errorf("events: create threat_events table: %w", err)
	}
	if err := s.conn.Exec(ctx, statsSnapshots); err != nil {
		return fmt.Errorf("events: create statistics_snapshots table: %w", err)
	}
	return nil
}

// Publish buffers evt for the next batch flush. Only ThreatDetected and
// StatisticsSnapshot events are archived; other kinds are accepted and
// silently ignored since this sink's only job is archival, not the full
// event stream.
func (s *ClickHouseSink) Publish(evt Event) error {
	if evt.Type != KindThreatDetected && evt.Type != KindStatisticsSnapshot {
		return nil
	}
	s.mu.Lock()
	s.buf = append(s.buf, evt)
	full := len(s.buf) >= s.cfg.BatchSize
	s.mu.Unlock()
	if full {
		return s.flush()
	}
	return nil
}

func (s *ClickHouseSink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *ClickHouseSink) flush() error {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.insertThreats(ctx, batch); err != nil {
		return err
	}
	return s.insertStats(ctx, batch)
}

func (s *ClickHouseSink) insertThreats(ctx context.Context, batch []Event) error {
	var threats []Event
	for _, e := range batch {
		if e.Type == KindThreatDetected {
			threats = append(threats, e)
		}
	}
	if len(threats) == 0 {
		return nil
	}
	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO threat_events")
	if err != nil {
		return fmt.Errorf("events: prepare threat_events batch: %w", err)
	}
	for _, e := range threats {
		t := e.Threat
		if err := b.Append(e.ID, t.Timestamp, t.SrcIP, t.DstIP, t.SrcPort, t.DstPort, t.Probability, t.Features[:]); err != nil {
			return fmt.Errorf("events: append threat_events row: %w", err)
		}
	}
	return b.Send()
}

func (s *ClickHouseSink) insertStats(ctx context.Context, batch []Event) error {
	var snaps []Event
	for _, e := range batch {
		if e.Type == KindStatisticsSnapshot {
			snaps = append(snaps, e)
		}
	}
	if len(snaps) == 0 {
		return nil
	}
	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO statistics_snapshots")
	if err != nil {
		return fmt.Errorf("events: prepare statistics_snapshots batch: %w", err)
	}
	for _, e := range snaps {
		st := e.Stats
		if err := b.Append(e.Timestamp, st.PacketsCaptured, st.PacketsDropped, st.FeaturesExtracted,
			st.PredictionsMade, st.ThreatsDetected, st.ProcessingErrors, st.QueueHighWatermark, st.RuntimeSeconds); err != nil {
			return fmt.Errorf("events: append statistics_snapshots row: %w", err)
		}
	}
	return b.Send()
}

// Close flushes any buffered events and closes the connection.
func (s *ClickHouseSink) Close() error {
	s.cancel()
	s.flush()
	s.wg.Wait()
	return s.conn.Close()
}
