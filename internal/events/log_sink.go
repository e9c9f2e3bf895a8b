package events

import "log"

// LogSink writes every event through the stdlib logger, matching the
// register the teacher's own core packages use for operational output
// (log.Printf, no structured logging library). It never fails, so it is
// always wired alongside whatever optional sinks the configuration adds.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (LogSink) Publish(evt Event) error {
	switch evt.Type {
	case KindStateChanged:
		log.Printf("[sensor] state %s -> %s", evt.State.From, evt.State.To)
	case KindThreatDetected:
		log.Printf("[sensor] threat detected: %s:%d -> %s:%d probability=%.3f",
			evt.Threat.SrcIP, evt.Threat.SrcPort, evt.Threat.DstIP, evt.Threat.DstPort, evt.Threat.Probability)
	case KindStatisticsSnapshot:
		log.Printf("[sensor] stats: captured=%d dropped=%d threats=%d errors=%d",
			evt.Stats.PacketsCaptured, evt.Stats.PacketsDropped, evt.Stats.ThreatsDetected, evt.Stats.ProcessingErrors)
	case KindError:
		log.Printf("[sensor] error(%s): %s", evt.ErrorKind, evt.Message)
	}
	return nil
}
