// Package coordinator wires capture, queueing, feature extraction,
// classification, and event publication into a single owned lifecycle: the
// DetectionCoordinator state machine of spec.md §4.6.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sakin-sensor/internal/alertstore"
	"sakin-sensor/internal/capture"
	"sakin-sensor/internal/classifier"
	"sakin-sensor/internal/events"
	"sakin-sensor/internal/features"
	"sakin-sensor/internal/queue"
	"sakin-sensor/internal/recovery"
)

// State is one node of the Idle/Starting/Running/Stopping/Stopped machine.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Errors surfaced by start().
var (
	ErrNotReady         = errors.New("coordinator: not ready")
	ErrUnknownInterface = errors.New("coordinator: unknown interface")
)

// NotReadyError names why start() refused to run.
type NotReadyError struct{ Cause string }

func (e *NotReadyError) Error() string { return fmt.Sprintf("coordinator: not ready: %s", e.Cause) }
func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// Config is the frozen set of tuning knobs a session runs under (spec.md §6
// Configuration, minus the backend/transport fields the driver resolves
// before construction).
type Config struct {
	FilterExpression     string
	Promiscuous          bool
	CaptureReadTimeoutS  int
	WindowSeconds        int
	MaxQueueSize         int
	WorkerCount          int
	ProbThreshold        float64
	AlertCooldownSeconds int
	StatisticsIntervalS  int

	// GracePeriod defaults to 2s but is not consulted by Stop: workers
	// exit at their next shutdown check without draining the queue, and
	// records still buffered at that point are discarded.
	GracePeriod time.Duration
	// JoinDeadline bounds the total time stop() waits for goroutines to
	// exit before transitioning regardless (spec.md §5 default 5s).
	JoinDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.GracePeriod == 0 {
		c.GracePeriod = 2 * time.Second
	}
	if c.JoinDeadline == 0 {
		c.JoinDeadline = 5 * time.Second
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 1
	}
	return c
}

// statsPublishEvery is K in spec.md §4.6 step 5.
const statsPublishEvery = 1000

// errorRateWindow is the record window the HighErrorRate monitor evaluates
// over (spec.md §7).
const errorRateWindow = 1000

// errorRateThreshold is the fraction of errorRateWindow that triggers a
// HighErrorRate Error event.
const errorRateThreshold = 0.10

// Coordinator owns a single monitoring session's capture handle, queue,
// feature extractor, classifier, and statistics, and fans events out to a
// subscriber. One Coordinator runs at most one session at a time.
type Coordinator struct {
	cfg        Config
	source     capture.Source
	classifier *classifier.Classifier
	sink       *events.Fanout
	cooldown   alertstore.CooldownStore
	recovery   *recovery.Policy

	mu    sync.Mutex
	state State

	extractor *features.Extractor
	queue     *queue.Queue
	handle    capture.Handle

	shutdown chan struct{}
	wg       sync.WaitGroup

	startedAt time.Time

	packetsCaptured    atomic.Uint64
	packetsDropped     atomic.Uint64
	featuresExtracted  atomic.Uint64
	predictionsMade    atomic.Uint64
	threatsDetected    atomic.Uint64
	processingErrors   atomic.Uint64
	queueHighWatermark atomic.Uint64

	windowErrors atomic.Uint64
	windowTotal  atomic.Uint64
}

// New constructs a Coordinator in the Idle state.
func New(cfg Config, source capture.Source, clf *classifier.Classifier, sink *events.Fanout, cooldown alertstore.CooldownStore) *Coordinator {
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		source:     source,
		classifier: clf,
		sink:       sink,
		cooldown:   cooldown,
		recovery:   recovery.New(),
		state:      Idle,
	}
}

// State reports the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ListInterfaces delegates to the bound CaptureSource.
func (c *Coordinator) ListInterfaces() ([]capture.Interface, error) {
	return c.source.ListInterfaces()
}

// Subscribe registers an additional EventSink on the coordinator's fanout.
func (c *Coordinator) Subscribe(sink events.Sink) {
	c.sink.Add(sink)
}

// Start validates preconditions, opens a capture handle on interfaceID, and
// spawns the producer and worker goroutines. It returns once the session
// is Running or has failed back to Stopped.
func (c *Coordinator) Start(interfaceID string) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return &NotReadyError{Cause: "session already " + c.state.String()}
	}
	if c.classifier == nil || !c.classifier.LoadStatus().CanScore {
		c.state = Stopped
		c.mu.Unlock()
		c.publishState(Idle, Stopped)
		return &NotReadyError{Cause: "ModelNotLoaded"}
	}

	ifaces, err := c.source.ListInterfaces()
	if err != nil {
		c.state = Stopped
		c.mu.Unlock()
		c.publishState(Idle, Stopped)
		return fmt.Errorf("coordinator: list interfaces: %w", err)
	}
	canon := capture.CanonicalInterfaceID(interfaceID)
	found := false
	for _, iface := range ifaces {
		if capture.CanonicalInterfaceID(iface.ID) == canon {
			found = true
			break
		}
	}
	if !found {
		c.state = Stopped
		c.mu.Unlock()
		c.publishState(Idle, Stopped)
		return fmt.Errorf("%w: %q", ErrUnknownInterface, interfaceID)
	}

	prev := c.state
	c.state = Starting
	c.mu.Unlock()
	c.publishState(prev, Starting)

	handle, err := c.openWithRecovery(interfaceID)
	if err != nil {
		c.mu.Lock()
		c.state = Stopped
		c.mu.Unlock()
		c.publishState(Starting, Stopped)
		return err
	}

	c.mu.Lock()
	c.handle = handle
	c.queue = queue.New(c.cfg.MaxQueueSize)
	c.extractor = features.New(float64(c.cfg.WindowSeconds))
	c.shutdown = make(chan struct{})
	c.startedAt = time.Now()
	c.packetsCaptured.Store(0)
	c.packetsDropped.Store(0)
	c.featuresExtracted.Store(0)
	c.predictionsMade.Store(0)
	c.threatsDetected.Store(0)
	c.processingErrors.Store(0)
	c.queueHighWatermark.Store(0)
	c.windowErrors.Store(0)
	c.windowTotal.Store(0)
	c.state = Running
	c.mu.Unlock()

	c.wg.Add(1)
	go c.captureLoop()
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.workerLoop()
	}
	c.wg.Add(1)
	go c.statisticsLoop()

	c.publishState(Starting, Running)
	return nil
}

// openWithRecovery opens the capture handle, consulting RecoveryPolicy for
// CaptureOpenTransient backoff/retry on a recoverable OpenFailedError.
func (c *Coordinator) openWithRecovery(interfaceID string) (capture.Handle, error) {
	readTimeout := time.Duration(c.cfg.CaptureReadTimeoutS) * time.Second
	for {
		h, err := c.source.Open(interfaceID, c.cfg.FilterExpression, c.cfg.Promiscuous, readTimeout)
		if err == nil {
			c.recovery.ResetOnSuccess(recovery.CaptureOpenTransient)
			return h, nil
		}
		var openErr *capture.OpenFailedError
		if !errors.As(err, &openErr) {
			return nil, err
		}
		outcome := c.recovery.Attempt(recovery.CaptureOpenTransient)
		if outcome.Fatal {
			return nil, fmt.Errorf("coordinator: capture open failed permanently: %w", err)
		}
		if outcome.Backoff > 0 {
			time.Sleep(outcome.Backoff)
		}
	}
}

// Stop is idempotent: called while Stopped it is a no-op. Otherwise it
// signals shutdown, closes the capture handle and queue, waits up to
// JoinDeadline for goroutines to exit, and transitions to Stopped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.state == Stopped || c.state == Idle {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = Stopping
	handle := c.handle
	q := c.queue
	shutdown := c.shutdown
	c.mu.Unlock()
	c.publishState(prev, Stopping)

	close(shutdown)
	if handle != nil {
		handle.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.cfg.JoinDeadline):
	}
	if q != nil {
		q.Close()
	}

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
	c.publishState(Stopping, Stopped)
	c.sink.Publish(events.StatisticsSnapshotEvent(c.snapshot()))
}

func (c *Coordinator) publishState(from, to State) {
	c.sink.Publish(events.StateChangedEvent(from.String(), to.String()))
}

func (c *Coordinator) captureLoop() {
	defer c.wg.Done()
	readTimeout := time.Duration(c.cfg.CaptureReadTimeoutS) * time.Second
	for {
		select {
		case <-c.shutdown:
			return
		default:
		}
		rec, err := c.handle.Next(readTimeout)
		if err != nil {
			if errors.Is(err, capture.ErrTimeout) {
				continue
			}
			if errors.Is(err, capture.ErrClosed) {
				return
			}
			continue
		}
		c.packetsCaptured.Add(1)
		switch c.queue.TryPush(rec) {
		case queue.Dropped:
			c.packetsDropped.Add(1)
		}
		if l := uint64(c.queue.Len()); l > c.queueHighWatermark.Load() {
			c.queueHighWatermark.Store(l)
		}
	}
}

func (c *Coordinator) workerLoop() {
	defer c.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-c.shutdown:
			return
		default:
		}
		rec, result := c.queue.Pop(100 * time.Millisecond)
		switch result {
		case queue.PopTimeout:
			continue
		case queue.PopClosed:
			return
		}

		c.mu.Lock()
		extractor := c.extractor
		c.mu.Unlock()
		if extractor == nil {
			continue
		}
		vec := extractor.Extract(rec)
		c.featuresExtracted.Add(1)

		prob, isThreat, err := c.classifier.Score(vec)
		total := c.windowTotal.Add(1)
		var werr uint64
		if err != nil {
			c.processingErrors.Add(1)
			werr = c.windowErrors.Add(1)
		} else {
			werr = c.windowErrors.Load()
			c.predictionsMade.Add(1)
		}

		if err == nil && isThreat {
			c.threatsDetected.Add(1)
			pairKey := rec.SrcIP + "->" + rec.DstIP
			cooldown := time.Duration(c.cfg.AlertCooldownSeconds) * time.Second
			allow, cerr := c.cooldown.Allow(ctx, pairKey, cooldown)
			if cerr == nil && allow {
				c.sink.Publish(events.ThreatDetectedEvent(events.ThreatEvent{
					Timestamp:   time.Unix(0, int64(rec.Timestamp*float64(time.Second))).UTC(),
					SrcIP:       rec.SrcIP,
					DstIP:       rec.DstIP,
					SrcPort:     rec.SrcPort,
					DstPort:     rec.DstPort,
					Probability: prob,
					Features:    vec,
				}))
			}
		}

		if n := c.featuresExtracted.Load(); n%statsPublishEvery == 0 {
			c.sink.Publish(events.StatisticsSnapshotEvent(c.snapshot()))
		}

		if total >= errorRateWindow {
			c.checkErrorRate(werr, total)
			c.windowTotal.Store(0)
			c.windowErrors.Store(0)
		}
	}
}

func (c *Coordinator) checkErrorRate(windowErrors, windowTotal uint64) {
	if float64(windowErrors)/float64(windowTotal) > errorRateThreshold {
		c.sink.Publish(events.ErrorEvent("HighErrorRate", fmt.Sprintf("%d/%d processing errors in the last %d records", windowErrors, windowTotal, errorRateWindow)))
	}
}

func (c *Coordinator) statisticsLoop() {
	defer c.wg.Done()
	interval := time.Duration(c.cfg.StatisticsIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.sink.Publish(events.StatisticsSnapshotEvent(c.snapshot()))
		}
	}
}

// GetStatistics returns a point-in-time snapshot of the coordinator's
// monotone counters.
func (c *Coordinator) GetStatistics() events.Statistics {
	return c.snapshot()
}

func (c *Coordinator) snapshot() events.Statistics {
	runtime := time.Since(c.startedAt).Seconds()
	if c.startedAt.IsZero() {
		runtime = 0
	}
	return events.Statistics{
		PacketsCaptured:    c.packetsCaptured.Load(),
		PacketsDropped:     c.packetsDropped.Load(),
		FeaturesExtracted:  c.featuresExtracted.Load(),
		PredictionsMade:    c.predictionsMade.Load(),
		ThreatsDetected:    c.threatsDetected.Load(),
		ProcessingErrors:   c.processingErrors.Load(),
		QueueHighWatermark: c.queueHighWatermark.Load(),
		RuntimeSeconds:     runtime,
	}
}
