// Package recovery maps the coordinator's fault taxonomy to remediation
// attempts with capped, per-class retry counters, translated from the
// reference implementation's error_recovery module: an attempt budget per
// fault class that resets on the next successful operation of that class.
package recovery

import (
	"sync"
	"time"
)

// FaultKind enumerates the recoverable fault classes spec.md §4.7 names.
type FaultKind int

const (
	CaptureBackendMissing FaultKind = iota
	CaptureServiceStopped
	InsufficientPrivileges
	NoInterfaces
	ModelLoadFailed
	CaptureOpenTransient
)

func (k FaultKind) String() string {
	switch k {
	case CaptureBackendMissing:
		return "CaptureBackendMissing"
	case CaptureServiceStopped:
		return "CaptureServiceStopped"
	case InsufficientPrivileges:
		return "InsufficientPrivileges"
	case NoInterfaces:
		return "NoInterfaces"
	case ModelLoadFailed:
		return "ModelLoadFailed"
	case CaptureOpenTransient:
		return "CaptureOpenTransient"
	default:
		return "Unknown"
	}
}

// DefaultMaxAttempts is the attempt cap per fault class (spec.md §4.7).
const DefaultMaxAttempts = 3

// backoffSchedule is the exponential backoff CaptureOpenTransient uses
// between attempts (spec.md §4.7: 250ms, 500ms, 1s).
var backoffSchedule = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// Outcome tells the caller what to do next.
type Outcome struct {
	Retry      bool
	Fatal      bool
	RemediationText string
	Backoff    time.Duration
}

// Policy tracks per-fault-class attempt counters and decides what
// remediation, if any, to attempt next.
type Policy struct {
	mu          sync.Mutex
	attempts    map[FaultKind]int
	maxAttempts int
}

func New() *Policy {
	return &Policy{attempts: make(map[FaultKind]int), maxAttempts: DefaultMaxAttempts}
}

// Attempt records one remediation attempt for kind and returns the decided
// Outcome. Once the attempt count for a class exceeds maxAttempts, further
// calls return a fatal Outcome until ResetOnSuccess is called for that
// class.
func (p *Policy) Attempt(kind FaultKind) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.attempts[kind]
	if n >= p.maxAttempts {
		return Outcome{Fatal: true, RemediationText: kind.String() + ": exceeded max attempts"}
	}
	p.attempts[kind] = n + 1

	switch kind {
	case CaptureBackendMissing:
		return Outcome{Fatal: true, RemediationText: "capture backend missing; install it and restart"}
	case CaptureServiceStopped:
		return Outcome{Retry: true, RemediationText: "requesting capture service start"}
	case InsufficientPrivileges:
		return Outcome{Fatal: true, RemediationText: "insufficient privileges to open capture device"}
	case NoInterfaces:
		return Outcome{Retry: true, RemediationText: "re-enumerating interfaces", Backoff: 2 * time.Second}
	case ModelLoadFailed:
		return Outcome{Retry: true, RemediationText: "reloading classifier artefact; falling back to constant model if retry fails"}
	case CaptureOpenTransient:
		idx := n
		if idx >= len(backoffSchedule) {
			idx = len(backoffSchedule) - 1
		}
		return Outcome{Retry: true, Backoff: backoffSchedule[idx], RemediationText: "retrying capture open with backoff"}
	default:
		return Outcome{Fatal: true, RemediationText: "unrecognised fault kind"}
	}
}

// ResetOnSuccess clears the attempt counter for kind, per spec.md §4.7:
// "Counters reset on the next successful operation of the same class."
func (p *Policy) ResetOnSuccess(kind FaultKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, kind)
}

// Attempts returns the current attempt count for kind, for introspection
// and tests.
func (p *Policy) Attempts(kind FaultKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[kind]
}
