package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"sakin-sensor/internal/secure"
)

// NATSConfig configures the NATS JetStream sink.
type NATSConfig struct {
	URL                  string
	Subject              string
	Stream               string
	CertFile, KeyFile    string
	CACertFile           string
	MaxReconnectAttempts int
	ReconnectWait        time.Duration
	BatchSize            int
	FlushInterval        time.Duration
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.Subject == "" {
		c.Subject = "sakin.sensor.events"
	}
	if c.Stream == "" {
		c.Stream = "SAKIN_SENSOR_EVENTS"
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 200
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 2 * time.Second
	}
	return c
}

// NATSSink batches Events and publishes them to a JetStream subject,
// guarded by a three-state circuit breaker so a down broker doesn't stall
// the worker loop. It follows a common producer pattern for outbound event
// transport: batch channel, ticker-driven flush, non-blocking publish with
// drop-on-full.
type NATSSink struct {
	cfg NATSConfig

	conn *nats.Conn
	js   jetstream.JetStream

	batchCh chan Event
	buf     []Event
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	breaker *circuitBreaker

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewNATSSink connects to NATS, creates the JetStream context, and starts
// the batching goroutines. The caller must call Close to flush and
// disconnect.
func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &NATSSink{
		cfg:     cfg,
		batchCh: make(chan Event, 10000),
		ctx:     ctx,
		cancel:  cancel,
		breaker: newCircuitBreaker(5, 30*time.Second, 3),
	}

	if err := s.connect(); err != nil {
		cancel()
		return nil, err
	}

	if err := s.ensureStream(); err != nil {
		s.conn.Close()
		cancel()
		return nil, err
	}

	s.wg.Add(2)
	go s.batchLoop()
	go s.flushLoop()
	return s, nil
}

func (s *NATSSink) connect() error {
	opts := []nats.Option{
		nats.Name("sakin-sensor"),
		nats.ReconnectWait(s.cfg.ReconnectWait),
		nats.MaxReconnects(s.cfg.MaxReconnectAttempts),
	}
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		tlsCfg, err := secure.LoadClientTLSConfig(secure.TLSConfig{
			CertFile: s.cfg.CertFile, KeyFile: s.cfg.KeyFile, CAFile: s.cfg.CACertFile,
		})
		if err != nil {
			return fmt.Errorf("events: nats tls: %w", err)
		}
		opts = append(opts, nats.Secure(tlsCfg))
	}

	conn, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("events: connect to NATS: %w", err)
	}
	s.conn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("events: create JetStream context: %w", err)
	}
	s.js = js
	return nil
}

func (s *NATSSink) ensureStream() error {
	_, err := s.js.CreateOrUpdateStream(s.ctx, jetstream.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: []string{s.cfg.Subject},
		Storage:  jetstream.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("events: ensure stream %q: %w", s.cfg.Stream, err)
	}
	return nil
}

// Publish enqueues evt for batched delivery, non-blocking: a full buffer
// drops the event and increments the sink's own drop counter (accounted
// separately from the coordinator's SinkTimeout bookkeeping).
func (s *NATSSink) Publish(evt Event) error {
	select {
	case s.batchCh <- evt:
		return nil
	default:
		s.dropped.Add(1)
		return errors.New("events: nats sink buffer full, event dropped")
	}
}

func (s *NATSSink) batchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.batchCh:
			s.mu.Lock()
			s.buf = append(s.buf, evt)
			full := len(s.buf) >= s.cfg.BatchSize
			s.mu.Unlock()
			if full {
				s.flush()
			}
		}
	}
}

func (s *NATSSink) flushLoop() {
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

func (s *NATSSink) flush() {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if !s.breaker.allow() {
		s.dropped.Add(uint64(len(batch)))
		return
	}
	if err := s.send(batch); err != nil {
		s.breaker.recordFailure()
		s.dropped.Add(uint64(len(batch)))
		return
	}
	s.breaker.recordSuccess()
	s.published.Add(uint64(len(batch)))
}

func (s *NATSSink) send(batch []Event) error {
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if _, err := s.js.Publish(s.ctx, s.cfg.Subject, data); err != nil {
			return fmt.Errorf("events: publish to %q: %w", s.cfg.Subject, err)
		}
	}
	return nil
}

// Close flushes any buffered events, stops the batching goroutines, and
// closes the NATS connection.
func (s *NATSSink) Close() error {
	s.cancel()
	s.wg.Wait()
	// The batching goroutines have exited: move whatever is still queued in
	// batchCh into buf, and flush under a fresh context since s.ctx is
	// already cancelled.
	for drained := false; !drained; {
		select {
		case evt := <-s.batchCh:
			s.buf = append(s.buf, evt)
		default:
			drained = true
		}
	}
	s.ctx = context.Background()
	s.flush()
	return s.conn.Close()
}

// Published and Dropped expose cumulative sink-level counters.
func (s *NATSSink) Published() uint64 { return s.published.Load() }
func (s *NATSSink) Dropped() uint64   { return s.dropped.Load() }

// circuitBreaker guards publish attempts against a failing broker with the
// standard closed/half-open/open state machine.
type circuitBreaker struct {
	mu                sync.Mutex
	state             breakerState
	failureCount      int
	successCount      int
	lastFailure       time.Time
	threshold         int
	timeout           time.Duration
	recoveryThreshold int
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func newCircuitBreaker(threshold int, timeout time.Duration, recoveryThreshold int) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, timeout: timeout, recoveryThreshold: recoveryThreshold}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		return cb.successCount < cb.recoveryThreshold
	default: // breakerOpen
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = breakerHalfOpen
			cb.successCount = 0
			cb.failureCount = 0
			return true
		}
		return false
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = breakerOpen
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.successCount++
	cb.failureCount = 0
	if cb.state == breakerHalfOpen && cb.successCount >= cb.recoveryThreshold {
		cb.state = breakerClosed
	}
}
