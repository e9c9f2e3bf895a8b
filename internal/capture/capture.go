// Package capture defines the boundary between the detection core and the
// packet capture backend, plus the PacketRecord value that crosses it. Two
// concrete backends live alongside this file: pcap.go (libpcap, all
// platforms) and afpacket_linux.go (AF_PACKET zero-copy, Linux only).
package capture

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PacketRecord is the unit handed from capture to the worker loop. It is
// produced only for packets that parsed as TCP over IP; no other protocol
// ever reaches the queue.
type PacketRecord struct {
	Timestamp  float64 // backend capture time as Unix seconds, sub-second precision; not a monotonic clock reading
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	Flags      uint8 // bit0 FIN, bit1 SYN, bit2 RST, bit4 ACK
	PacketSize int
}

const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagACK uint8 = 1 << 4
)

func (p PacketRecord) IsSYN() bool { return p.Flags&FlagSYN != 0 }
func (p PacketRecord) IsACK() bool { return p.Flags&FlagACK != 0 }
func (p PacketRecord) IsFIN() bool { return p.Flags&FlagFIN != 0 }
func (p PacketRecord) IsRST() bool { return p.Flags&FlagRST != 0 }

// Interface describes one capturable network interface as enumerated by a
// Source.
type Interface struct {
	ID          string
	DisplayName string
}

// Handle is an open capture session on one interface.
type Handle interface {
	// Next blocks for at most deadline waiting for the next TCP/IP packet.
	// It returns ErrTimeout if the deadline elapsed with nothing to
	// deliver, or ErrClosed once the handle has been closed.
	Next(deadline time.Duration) (PacketRecord, error)
	Close() error
}

// Source enumerates interfaces and opens capture handles on them. It is the
// CaptureSource boundary: an external collaborator, not part of the core.
type Source interface {
	ListInterfaces() ([]Interface, error)
	Open(interfaceID, filterExpression string, promiscuous bool, readTimeout time.Duration) (Handle, error)
}

var (
	ErrTimeout = errors.New("capture: read timeout")
	ErrClosed  = errors.New("capture: handle closed")
)

// OpenFailedError wraps a backend-reported failure to open a handle, the
// recoverable-error class the coordinator hands to RecoveryPolicy.
type OpenFailedError struct {
	Interface string
	Cause     error
}

func (e *OpenFailedError) Error() string {
	return fmt.Sprintf("capture: open %q failed: %v", e.Interface, e.Cause)
}
func (e *OpenFailedError) Unwrap() error { return e.Cause }

// filterPatterns is the allow-list of filter expression shapes the core will
// hand to a backend. Anything else is rejected before it ever reaches a BPF
// compiler.
var filterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^tcp$`),
	regexp.MustCompile(`^tcp and port \d{1,5}$`),
	regexp.MustCompile(`^host (\d{1,3}\.){3}\d{1,3}$`),
	regexp.MustCompile(`^net (\d{1,3}\.){3}\d{1,3}/\d{1,2}$`),
	regexp.MustCompile(`^tcp and tcp\[13\]=2$`),
}

const maxFilterLength = 1000

var disallowedFilterChars = ";|&`"

// ValidateFilterExpression rejects expressions that are too long, contain
// shell metacharacters, or don't match one of the recognised shapes.
func ValidateFilterExpression(expr string) error {
	if len(expr) > maxFilterLength {
		return fmt.Errorf("capture: filter expression exceeds %d characters", maxFilterLength)
	}
	if strings.ContainsAny(expr, disallowedFilterChars) {
		return fmt.Errorf("capture: filter expression contains a disallowed character")
	}
	for _, p := range filterPatterns {
		if p.MatchString(expr) {
			return nil
		}
	}
	return fmt.Errorf("capture: filter expression %q does not match an allowed pattern", expr)
}

var braceGUID = regexp.MustCompile(`^\{(.+)\}$`)

// CanonicalInterfaceID strips brace-wrapping and lower-cases a GUID-shaped
// interface identifier so that "{ABC}", "{abc}", and "abc" compare equal.
func CanonicalInterfaceID(id string) string {
	if m := braceGUID.FindStringSubmatch(id); m != nil {
		id = m[1]
	}
	return strings.ToLower(id)
}

var validInterfaceID = regexp.MustCompile(`^[A-Za-z0-9_.{}-]{1,50}$`)

// ValidInterfaceID reports whether id is a well-formed interface identifier
// per the external contract (1-50 characters from the allowed alphabet).
func ValidInterfaceID(id string) bool {
	return validInterfaceID.MatchString(id)
}
