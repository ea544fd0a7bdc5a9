package pipeline

import (
	"sync/atomic"

	"firestige.xyz/ingress/internal/core/ingress"
)

// Metrics contains per-worker counters. They are written by the owning
// worker and may be read from any goroutine.
type Metrics struct {
	WorkerID int

	Received   atomic.Uint64
	Forwarded  atomic.Uint64 // Handed to the layer-4 handler
	Dropped    atomic.Uint64 // Failure drops
	Reused     atomic.Uint64 // Buffers consumed by an ARP reply
	ArpLearned atomic.Uint64
	ArpReplies atomic.Uint64
	Expired    atomic.Uint64 // Reassembly flows timed out

	reasons   [256]atomic.Uint64
	protocols [256]atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(workerID int) *Metrics {
	return &Metrics{WorkerID: workerID}
}

func (m *Metrics) countDrop(r ingress.Reason) {
	if r.IsFailure() {
		m.Dropped.Add(1)
	} else {
		m.Reused.Add(1)
	}
	m.reasons[r].Add(1)
}

func (m *Metrics) countDelivery(p ingress.Layer4Protocol) {
	m.Forwarded.Add(1)
	m.protocols[p].Add(1)
}
