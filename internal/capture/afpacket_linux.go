//go:build linux
// +build linux

package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
)

// AFPacketSource implements Source over AF_PACKET, a zero-copy alternative
// to libpcap available on Linux. Interface enumeration is shared with
// PcapSource since both read from the same kernel interface list.
type AFPacketSource struct {
	PcapSource
}

func NewAFPacketSource() *AFPacketSource { return &AFPacketSource{} }

func (s *AFPacketSource) Open(interfaceID, filterExpression string, promiscuous bool, readTimeout time.Duration) (Handle, error) {
	if err := ValidateFilterExpression(filterExpression); err != nil {
		return nil, err
	}

	options := []afpacket.Option{
		afpacket.OptInterface(interfaceID),
		afpacket.OptFrameSize(defaultSnaplen),
		afpacket.OptBlockSize(defaultSnaplen * 128),
		afpacket.OptNumBlocks(8),
		afpacket.OptPollTimeout(readTimeout),
	}

	tp, err := afpacket.NewTPacket(options...)
	if err != nil {
		return nil, &OpenFailedError{Interface: interfaceID, Cause: fmt.Errorf("open AF_PACKET socket: %w", err)}
	}
	if filterExpression != "" {
		if err := tp.SetBPFFilter(filterExpression); err != nil {
			tp.Close()
			return nil, &OpenFailedError{Interface: interfaceID, Cause: fmt.Errorf("set BPF filter: %w", err)}
		}
	}
	return newAFPacketHandle(tp), nil
}

type afpacketHandle struct {
	tp      *afpacket.TPacket
	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
	closed  bool
}

func newAFPacketHandle(tp *afpacket.TPacket) *afpacketHandle {
	h := &afpacketHandle{tp: tp}
	h.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&h.eth, &h.ip4, &h.ip6, &h.tcp,
	)
	h.parser.IgnoreUnsupported = true
	return h
}

func (h *afpacketHandle) Next(deadline time.Duration) (PacketRecord, error) {
	if h.closed {
		return PacketRecord{}, ErrClosed
	}
	h.tp.SetDeadline(time.Now().Add(deadline))

	for {
		data, ci, err := h.tp.ZeroCopyReadPacketData()
		if err != nil {
			if isTimeout(err) {
				return PacketRecord{}, ErrTimeout
			}
			return PacketRecord{}, fmt.Errorf("capture: af_packet read: %w", err)
		}

		rec, ok := decodeTCPIP(h.parser, &h.decoded, &h.ip4, &h.ip6, &h.tcp, data, ci)
		if ok {
			return rec, nil
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

func (h *afpacketHandle) Close() error {
	h.closed = true
	h.tp.Close()
	return nil
}
