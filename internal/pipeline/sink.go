package pipeline

import (
	"log/slog"
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/ingress"
	"firestige.xyz/ingress/internal/metrics"
)

// Sink is the layer-4 endpoint of a worker. It counts every delivery and
// passes the packet on to Next, or frees it when there is no next handler.
type Sink struct {
	m        *Metrics
	next     ingress.Layer4Dispatch
	counters [256]prometheus.Counter
}

// NewSink creates a sink. next may be nil.
func NewSink(m *Metrics, next ingress.Layer4Dispatch) *Sink {
	return &Sink{m: m, next: next}
}

// Handle implements ingress.Layer4Dispatch.
func (s *Sink) Handle(pkt core.PacketBuffer, d *ingress.Delivery) {
	s.m.countDelivery(d.Protocol)
	c := s.counters[d.Protocol]
	if c == nil {
		c = metrics.ForwardedTotal.WithLabelValues(d.Protocol.String())
		s.counters[d.Protocol] = c
	}
	c.Inc()

	if s.next != nil {
		s.next.Handle(pkt, d)
		return
	}
	pkt.Free()
}

// ArpTable is a worker-local IPv4 to MAC binding cache. Frames are sharded by
// source MAC, so every sender's bindings land in the same table.
type ArpTable struct {
	m       *Metrics
	entries map[netip.Addr]core.MacAddress
	arp     prometheus.Counter
}

// NewArpTable creates an empty table.
func NewArpTable(m *Metrics) *ArpTable {
	return &ArpTable{
		m:       m,
		entries: make(map[netip.Addr]core.MacAddress),
		arp:     metrics.ForwardedTotal.WithLabelValues("arp"),
	}
}

// Record implements ingress.ArpCache.
func (t *ArpTable) Record(mac core.MacAddress, ip netip.Addr) {
	t.arp.Inc()
	if old, ok := t.entries[ip]; ok && old == mac {
		return
	}
	t.entries[ip] = mac
	t.m.ArpLearned.Add(1)
}

// Len returns the number of bindings.
func (t *ArpTable) Len() int { return len(t.entries) }

// ReplyRecorder stands in for the transmit path during replay: it counts the
// replies the host would send and logs them at debug level.
type ReplyRecorder struct {
	m      *Metrics
	logger *slog.Logger
	arp    prometheus.Counter
}

// NewReplyRecorder creates a recorder.
func NewReplyRecorder(m *Metrics, logger *slog.Logger) *ReplyRecorder {
	return &ReplyRecorder{
		m:      m,
		logger: logger,
		arp:    metrics.ForwardedTotal.WithLabelValues("arp"),
	}
}

func (r *ReplyRecorder) record(kind string, msg *ingress.ArpMessage) {
	r.m.ArpReplies.Add(1)
	r.arp.Inc()
	r.logger.Debug("arp reply due",
		"kind", kind,
		"target_ip", msg.SenderIP.String(),
		"target_mac", msg.SenderMac.String(),
		"for_ip", msg.TargetIP.String(),
	)
}

// ReplyToProbe implements ingress.ArpResponder.
func (r *ReplyRecorder) ReplyToProbe(msg *ingress.ArpMessage) { r.record("probe", msg) }

// ReplyToRequest implements ingress.ArpResponder.
func (r *ReplyRecorder) ReplyToRequest(msg *ingress.ArpMessage) { r.record("request", msg) }

// DefendAddress implements ingress.ArpResponder.
func (r *ReplyRecorder) DefendAddress(msg *ingress.ArpMessage) { r.record("defend", msg) }
