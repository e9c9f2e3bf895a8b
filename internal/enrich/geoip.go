// Package enrich attaches optional GeoIP metadata to outbound ThreatEvents.
// Enrichment happens only at the sink boundary: the in-core ThreatEvent
// produced by the coordinator never carries geo fields.
package enrich

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"sakin-sensor/internal/events"
)

// GeoLookup resolves an IP to its country/city/ASN for per-event
// enrichment ahead of archival/display.
type GeoLookup struct {
	mu  sync.Mutex
	db  *geoip2.Reader
}

func OpenGeoLookup(dbPath string) (*GeoLookup, error) {
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &GeoLookup{db: db}, nil
}

func (g *GeoLookup) Close() error {
	return g.db.Close()
}

// Annotate returns a copy of evt with SrcGeo/DstGeo populated where the
// lookup succeeds. A lookup failure for either side leaves that field nil
// rather than failing the whole annotation.
func (g *GeoLookup) Annotate(evt events.ThreatEvent) events.ThreatEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	evt.SrcGeo = g.lookup(evt.SrcIP)
	evt.DstGeo = g.lookup(evt.DstIP)
	return evt
}

func (g *GeoLookup) lookup(ip string) *events.GeoInfo {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil
	}
	record, err := g.db.City(addr)
	if err != nil {
		return nil
	}
	asn, err := g.db.ASN(addr)
	var asnNum uint
	if err == nil {
		asnNum = uint(asn.AutonomousSystemNumber)
	}
	return &events.GeoInfo{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
		ASN:     asnNum,
	}
}
