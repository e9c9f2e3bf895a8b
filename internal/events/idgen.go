package events

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// generateID returns a random 16-byte hex identifier, used as every
// Event's ID (carried in the NATS JSON payload and stored in ClickHouse's
// threat_events.id column).
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// nowUTC returns the current time in UTC truncated to millisecond
// precision so timestamps round-trip identically through JSON and
// ClickHouse's DateTime64(3).
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
