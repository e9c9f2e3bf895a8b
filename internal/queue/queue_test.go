package queue

import (
	"testing"
	"time"

	"sakin-sensor/internal/capture"
)

func TestTryPushAcceptsUntilFull(t *testing.T) {
	q := New(2)
	if r := q.TryPush(capture.PacketRecord{}); r != Accepted {
		t.Fatalf("expected Accepted, got %v", r)
	}
	if r := q.TryPush(capture.PacketRecord{}); r != Accepted {
		t.Fatalf("expected Accepted, got %v", r)
	}
	if r := q.TryPush(capture.PacketRecord{}); r != Dropped {
		t.Fatalf("expected Dropped once at capacity, got %v", r)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped record, got %d", q.Dropped())
	}
}

func TestQueueNeverExceedsMaxSizeUnderOverflow(t *testing.T) {
	q := New(100)
	for i := 0; i < 10000; i++ {
		q.TryPush(capture.PacketRecord{})
		if q.Len() > q.Cap() {
			t.Fatalf("queue length %d exceeded capacity %d", q.Len(), q.Cap())
		}
	}
	if q.Dropped() == 0 {
		t.Fatal("expected drops under sustained overflow")
	}
}

func TestPopTimeout(t *testing.T) {
	q := New(1)
	_, result := q.Pop(10 * time.Millisecond)
	if result != PopTimeout {
		t.Fatalf("expected PopTimeout on an empty queue, got %v", result)
	}
}

func TestFIFOOrderSingleProducer(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		q.TryPush(capture.PacketRecord{SrcPort: uint16(i)})
	}
	for i := 0; i < 5; i++ {
		rec, result := q.Pop(time.Second)
		if result != PopOK {
			t.Fatalf("expected PopOK, got %v", result)
		}
		if rec.SrcPort != uint16(i) {
			t.Fatalf("expected FIFO order, got SrcPort=%d at position %d", rec.SrcPort, i)
		}
	}
}

func TestCloseDrainsPendingThenReportsClosed(t *testing.T) {
	q := New(10)
	q.TryPush(capture.PacketRecord{SrcPort: 1})
	q.Close()

	if r := q.TryPush(capture.PacketRecord{SrcPort: 2}); r != Dropped {
		t.Fatal("expected push after Close to be dropped")
	}

	rec, result := q.Pop(time.Second)
	if result != PopOK || rec.SrcPort != 1 {
		t.Fatal("expected the pending record to still be drainable after Close")
	}

	if _, result := q.Pop(time.Second); result != PopClosed {
		t.Fatalf("expected PopClosed once drained, got %v", result)
	}
}
