package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// decodeTCPIP extracts a PacketRecord from one captured frame's worth of
// reused layer structs, shared by every backend so the decode semantics
// (which fields come from which layer, packet size fallback) stay in one
// place. It reports ok=false for anything that isn't TCP over IP, which the
// caller must treat as "skip, try the next packet" rather than an error.
func decodeTCPIP(
	parser *gopacket.DecodingLayerParser,
	decoded *[]gopacket.LayerType,
	ip4 *layers.IPv4,
	ip6 *layers.IPv6,
	tcp *layers.TCP,
	data []byte,
	ci gopacket.CaptureInfo,
) (PacketRecord, bool) {
	_ = parser.DecodeLayers(data, decoded)

	var rec PacketRecord
	haveIP, haveTCP := false, false
	for _, lt := range *decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			rec.SrcIP = ip4.SrcIP.String()
			rec.DstIP = ip4.DstIP.String()
			rec.PacketSize = int(ip4.Length)
			haveIP = true
		case layers.LayerTypeIPv6:
			rec.SrcIP = ip6.SrcIP.String()
			rec.DstIP = ip6.DstIP.String()
			rec.PacketSize = int(ip6.Length) + 40
			haveIP = true
		case layers.LayerTypeTCP:
			rec.SrcPort = uint16(tcp.SrcPort)
			rec.DstPort = uint16(tcp.DstPort)
			rec.Flags = tcpFlags(tcp)
			haveTCP = true
		}
	}
	if !haveIP || !haveTCP {
		return PacketRecord{}, false
	}
	if rec.PacketSize == 0 {
		rec.PacketSize = len(data)
	}
	rec.Timestamp = float64(ci.Timestamp.UnixNano()) / 1e9
	return rec, true
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.SYN {
		f |= FlagSYN
	}
	if tcp.ACK {
		f |= FlagACK
	}
	if tcp.FIN {
		f |= FlagFIN
	}
	if tcp.RST {
		f |= FlagRST
	}
	return f
}
