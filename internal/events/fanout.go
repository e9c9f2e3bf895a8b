package events

import (
	"log"
	"time"
)

// sinkDeadline is the non-blocking delivery deadline spec.md §4.8 imposes:
// a sink that hasn't accepted an event within this window gets it dropped.
const sinkDeadline = 50 * time.Millisecond

// Fanout multiplexes one coordinator-side Publish call out to every
// registered Sink, each under its own 50ms deadline so a slow or blocked
// sink never holds up the worker loop or the others.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Add registers an additional sink. Not safe for concurrent use with
// Publish; sinks are expected to be wired once at startup.
func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

// Publish delivers evt to every sink, dropping (and logging, not
// propagating — SinkTimeout is accounting-only per spec.md §7) any
// delivery that exceeds the per-sink deadline.
func (f *Fanout) Publish(evt Event) {
	for _, s := range f.sinks {
		done := make(chan error, 1)
		go func(s Sink) { done <- s.Publish(evt) }(s)

		select {
		case err := <-done:
			if err != nil {
				log.Printf("events: sink publish error: %v", err)
			}
		case <-time.After(sinkDeadline):
			log.Printf("events: sink delivery exceeded %v deadline, dropping event %s", sinkDeadline, evt.ID)
		}
	}
}
