package features

import (
	"sync"

	"sakin-sensor/internal/capture"
	"sakin-sensor/internal/window"
)

// uniqueSet tracks the last-seen timestamp of each distinct comparable
// member observed within a sliding window, mirroring the lazy-eviction
// tracker-map style the teacher uses for its per-key trackers: entries are
// swept out only when queried or observed again, never on a timer.
type uniqueSet[T comparable] struct {
	seen map[T]float64
}

func newUniqueSet[T comparable]() *uniqueSet[T] {
	return &uniqueSet[T]{seen: make(map[T]float64)}
}

func (s *uniqueSet[T]) observe(member T, ts float64) {
	s.seen[member] = ts
}

func (s *uniqueSet[T]) cardinality(now, windowSeconds float64) int {
	cutoff := now - windowSeconds
	for member, ts := range s.seen {
		if ts < cutoff {
			delete(s.seen, member)
		}
	}
	return len(s.seen)
}

func (s *uniqueSet[T]) empty(now, windowSeconds float64) bool {
	return s.cardinality(now, windowSeconds) == 0
}

// CounterCell is the per-key bundle of sliding counters and uniqueness sets
// maintained by FeatureExtractor for one FlowKey.
type CounterCell struct {
	synCount    *window.Counter
	packetCount *window.Counter
	byteCount   *window.Counter
	dstPorts    *uniqueSet[uint16] // distinct destination ports seen (source cells)
	srcIPs      *uniqueSet[string] // distinct source IPs seen (destination cells)
}

func newCounterCell(windowSeconds float64) *CounterCell {
	syn, _ := window.New(windowSeconds)
	pkt, _ := window.New(windowSeconds)
	byt, _ := window.New(windowSeconds)
	return &CounterCell{
		synCount:    syn,
		packetCount: pkt,
		byteCount:   byt,
		dstPorts:    newUniqueSet[uint16](),
		srcIPs:      newUniqueSet[string](),
	}
}

func (c *CounterCell) observe(rec capture.PacketRecord) {
	var syn float64
	if rec.IsSYN() {
		syn = 1
	}
	c.synCount.Add(rec.Timestamp, syn)
	c.packetCount.Add(rec.Timestamp, 1)
	c.byteCount.Add(rec.Timestamp, float64(rec.PacketSize))
	c.dstPorts.observe(rec.DstPort, rec.Timestamp)
	c.srcIPs.observe(rec.SrcIP, rec.Timestamp)
}

func (c *CounterCell) empty(now, windowSeconds float64) bool {
	return c.packetCount.Empty(now) &&
		c.synCount.Empty(now) &&
		c.byteCount.Empty(now) &&
		c.dstPorts.empty(now, windowSeconds) &&
		c.srcIPs.empty(now, windowSeconds)
}

// evictAfter is the default observation cadence at which the map sweep for
// idle keys runs (spec.md §4.2: "after every N observations, default
// 10,000").
const evictAfter = 10000

// Extractor maintains global, per-source, and per-destination CounterCells
// and derives the canonical 20-element Vector from a PacketRecord.
// extract is called serially from worker threads under mu; it is not
// internally parallel.
type Extractor struct {
	windowSeconds float64
	mu            sync.Mutex
	global        *CounterCell
	bySrc         map[string]*CounterCell
	byDst         map[string]*CounterCell
	observations  uint64
}

// New constructs an Extractor over the given sliding-window width.
func New(windowSeconds float64) *Extractor {
	return &Extractor{
		windowSeconds: windowSeconds,
		global:        newCounterCell(windowSeconds),
		bySrc:         make(map[string]*CounterCell),
		byDst:         make(map[string]*CounterCell),
	}
}

// Observe updates the global, source, and destination counters for rec
// without computing a vector. Extract already observes its record, so
// calling both Observe and Extract for one record counts it twice.
func (e *Extractor) Observe(rec capture.PacketRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeLocked(rec)
}

func (e *Extractor) observeLocked(rec capture.PacketRecord) {
	e.global.observe(rec)

	src, ok := e.bySrc[rec.SrcIP]
	if !ok {
		src = newCounterCell(e.windowSeconds)
		e.bySrc[rec.SrcIP] = src
	}
	src.observe(rec)

	dst, ok := e.byDst[rec.DstIP]
	if !ok {
		dst = newCounterCell(e.windowSeconds)
		e.byDst[rec.DstIP] = dst
	}
	dst.observe(rec)

	e.observations++
	if e.observations%evictAfter == 0 {
		e.evictLocked(rec.Timestamp)
	}
}

// Extract observes rec and returns the resulting 20-element feature vector.
// It never mutates state beyond the implied Observe.
func (e *Extractor) Extract(rec capture.PacketRecord) Vector {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeLocked(rec)
	return e.computeLocked(rec)
}

func (e *Extractor) computeLocked(rec capture.PacketRecord) Vector {
	now := rec.Timestamp
	w := e.windowSeconds

	src := e.bySrc[rec.SrcIP]
	dst := e.byDst[rec.DstIP]

	globalPackets := e.global.packetCount.Sum(now)
	globalSyn := e.global.synCount.Sum(now)
	srcPackets := src.packetCount.Sum(now)
	srcSyn := src.synCount.Sum(now)

	var v Vector
	v[0] = e.global.synCount.Rate(now)
	v[1] = e.global.packetCount.Rate(now)
	v[2] = e.global.byteCount.Rate(now)
	v[3] = src.synCount.Rate(now)
	v[4] = src.packetCount.Rate(now)
	v[5] = src.byteCount.Rate(now)
	v[6] = dst.synCount.Rate(now)
	v[7] = dst.packetCount.Rate(now)
	v[8] = dst.byteCount.Rate(now)
	v[9] = float64(src.dstPorts.cardinality(now, w))
	v[10] = float64(dst.srcIPs.cardinality(now, w))
	v[11] = float64(rec.PacketSize)
	v[12] = float64(rec.DstPort)
	v[13] = float64(rec.SrcPort)
	v[14] = boolToFloat(rec.IsSYN())
	v[15] = boolToFloat(rec.IsACK())
	v[16] = boolToFloat(rec.IsFIN())
	v[17] = boolToFloat(rec.IsRST())
	v[18] = globalSyn / maxFloat(1, globalPackets)
	v[19] = srcSyn / maxFloat(1, srcPackets)
	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Reset drops all extractor state, as if freshly constructed.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global = newCounterCell(e.windowSeconds)
	e.bySrc = make(map[string]*CounterCell)
	e.byDst = make(map[string]*CounterCell)
	e.observations = 0
}

// evictLocked sweeps bySrc/byDst for cells idle for a full window duration.
func (e *Extractor) evictLocked(now float64) {
	for k, cell := range e.bySrc {
		if cell.empty(now, e.windowSeconds) {
			delete(e.bySrc, k)
		}
	}
	for k, cell := range e.byDst {
		if cell.empty(now, e.windowSeconds) {
			delete(e.byDst, k)
		}
	}
}
