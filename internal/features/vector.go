// Package features turns a stream of capture.PacketRecord values into the
// fixed-arity feature vectors the classifier scores, maintaining
// per-source, per-destination, and global sliding-window counters along the
// way.
package features

// Arity is the fixed length of every FeatureVector this extractor produces.
// It is frozen by the classifier artefact contract; a mismatch at load time
// is a ShapeMismatch error, never a silent remap.
const Arity = 20

// Vector is a fixed-arity ordered tuple of finite real numbers in the
// canonical order below.
type Vector [Arity]float64

// Names is the canonical, positional feature ordering. Index i in Names
// names index i in every Vector this package produces.
var Names = [Arity]string{
	0:  "global_syn_rate",
	1:  "global_packet_rate",
	2:  "global_byte_rate",
	3:  "src_syn_rate",
	4:  "src_packet_rate",
	5:  "src_byte_rate",
	6:  "dst_syn_rate",
	7:  "dst_packet_rate",
	8:  "dst_byte_rate",
	9:  "unique_dst_ports",
	10: "unique_src_ips_to_dst",
	11: "packet_size",
	12: "dst_port",
	13: "src_port",
	14: "syn_flag",
	15: "ack_flag",
	16: "fin_flag",
	17: "rst_flag",
	18: "syn_packet_ratio",
	19: "src_syn_ratio",
}
