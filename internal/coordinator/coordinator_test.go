package coordinator

import (
	"sync"
	"testing"
	"time"

	"sakin-sensor/internal/alertstore"
	"sakin-sensor/internal/capture"
	"sakin-sensor/internal/classifier"
	"sakin-sensor/internal/events"
	"sakin-sensor/internal/features"
)

// fakeHandle replays a fixed slice of records, then reports ErrTimeout
// forever until closed.
type fakeHandle struct {
	mu      sync.Mutex
	records []capture.PacketRecord
	pos     int
	closed  bool
}

func (h *fakeHandle) Next(time.Duration) (capture.PacketRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return capture.PacketRecord{}, capture.ErrClosed
	}
	if h.pos >= len(h.records) {
		return capture.PacketRecord{}, capture.ErrTimeout
	}
	rec := h.records[h.pos]
	h.pos++
	return rec, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeSource struct {
	ifaces  []capture.Interface
	handle  *fakeHandle
	openErr error
}

func (s *fakeSource) ListInterfaces() ([]capture.Interface, error) {
	return s.ifaces, nil
}

func (s *fakeSource) Open(string, string, bool, time.Duration) (capture.Handle, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.handle, nil
}

type stubModel struct {
	p float64
}

func (s *stubModel) Arity() int { return features.Arity }
func (s *stubModel) Predict(features.Vector) (float64, error) { return s.p, nil }

func newTestCoordinator(t *testing.T, prob float64, records []capture.PacketRecord) (*Coordinator, *fakeSource, *captureSink) {
	t.Helper()
	src := &fakeSource{
		ifaces: []capture.Interface{{ID: "eth0", DisplayName: "eth0"}},
		handle: &fakeHandle{records: records},
	}
	clf := classifier.New(&stubModel{p: prob}, nil, 0.7)
	sink := &captureSink{}
	fanout := events.NewFanout(sink)
	cfg := Config{
		FilterExpression:     "tcp and tcp[13]=2",
		CaptureReadTimeoutS:  1,
		WindowSeconds:        60,
		MaxQueueSize:         1000,
		WorkerCount:          1,
		ProbThreshold:        0.7,
		AlertCooldownSeconds: 30,
		StatisticsIntervalS:  60,
	}
	co := New(cfg, src, clf, fanout, alertstore.NewMemoryStore())
	return co, src, sink
}

// captureSink records every event it receives for test assertions.
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Publish(evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) count(kind events.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}

func TestStartRejectsUnknownInterface(t *testing.T) {
	co, _, _ := newTestCoordinator(t, 0.1, nil)
	if err := co.Start("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown interface")
	}
	if co.State() != Stopped {
		t.Fatalf("expected state Stopped after rejected start, got %v", co.State())
	}
}

func TestStartRefusesWithoutModel(t *testing.T) {
	src := &fakeSource{ifaces: []capture.Interface{{ID: "eth0"}}, handle: &fakeHandle{}}
	fanout := events.NewFanout()
	co := New(Config{WorkerCount: 1}, src, classifier.New(nil, nil, 0.7), fanout, alertstore.NewMemoryStore())
	err := co.Start("eth0")
	if err == nil {
		t.Fatal("expected NotReady error with unloaded model")
	}
	if co.State() != Stopped {
		t.Fatalf("expected state Stopped, got %v", co.State())
	}
}

func TestSingleBenignSYNProducesNoThreat(t *testing.T) {
	rec := capture.PacketRecord{
		Timestamp: 0, SrcIP: "10.0.0.1", DstIP: "10.0.0.2",
		SrcPort: 44000, DstPort: 80, Flags: capture.FlagSYN, PacketSize: 64,
	}
	co, _, sink := newTestCoordinator(t, 0.10, []capture.PacketRecord{rec})
	if err := co.Start("eth0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStat(t, co, func(s events.Statistics) bool { return s.FeaturesExtracted >= 1 })
	co.Stop()

	stats := co.GetStatistics()
	if stats.FeaturesExtracted != 1 || stats.PredictionsMade != 1 || stats.ThreatsDetected != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if sink.count(events.KindThreatDetected) != 0 {
		t.Fatal("expected no ThreatDetected event for benign traffic")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	co, _, _ := newTestCoordinator(t, 0.1, nil)
	co.Stop()
	if co.State() != Idle {
		t.Fatalf("expected Idle, got %v", co.State())
	}
}

func waitForStat(t *testing.T, co *Coordinator, ok func(events.Statistics) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok(co.GetStatistics()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for expected statistics")
}
