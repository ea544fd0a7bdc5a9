package ingress

import (
	"container/list"
	"net/netip"
	"time"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/metrics"
)

// Reassembly limits. Offsets are in bytes.
const (
	maxDatagramSize     = 65535
	maxFragmentListLen  = 8192
	defaultMaxFragments = 100
	defaultFlowTimeout  = 60 * time.Second
	expireInterval      = 10 * time.Second
)

// ReassemblyConfig contains configuration for IP fragment reassembly.
type ReassemblyConfig struct {
	Enabled           bool
	MaxFragments      int           // Maximum fragments per datagram (default 100)
	MaxReassembleSize int           // Maximum reassembled payload size (default 65535)
	Timeout           time.Duration // Idle time before a partial datagram is discarded (default 60s)
	MaxFragsPerSource int           // Per-source fragment limit per window (0 = disabled)
	RateLimitWindow   time.Duration // Rate limit window (default 10s)
}

// fragmentKey identifies a fragmented datagram. IPv4 identifiers are
// widened to the 32-bit IPv6 identifier space.
type fragmentKey struct {
	src, dst netip.Addr
	protocol uint8
	id       uint32
}

// fragment is a trimmed, owned copy of a fragment payload.
type fragment struct {
	offset  int
	payload []byte
}

func (f *fragment) end() int { return f.offset + len(f.payload) }

// fragmentList keeps fragments sorted by offset. On overlap the data that
// arrived first wins and the newcomer is trimmed (BSD-Right).
type fragmentList struct {
	list          list.List
	highest       int // max(offset + length) seen
	current       int // unique bytes accumulated
	finalReceived bool
	lastSeen      time.Time
}

// reassembler collects fragments for one Dispatcher. It is not safe for
// concurrent use; expiry runs synchronously from add.
type reassembler struct {
	flows      map[fragmentKey]*fragmentList
	config     ReassemblyConfig
	limiter    *fragmentRateLimiter // nil if rate limiting is disabled
	lastExpire time.Time
}

func newReassembler(cfg ReassemblyConfig) *reassembler {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = defaultMaxFragments
	}
	if cfg.MaxReassembleSize <= 0 || cfg.MaxReassembleSize > maxDatagramSize {
		cfg.MaxReassembleSize = maxDatagramSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFlowTimeout
	}
	return &reassembler{
		flows:   make(map[fragmentKey]*fragmentList),
		config:  cfg,
		limiter: newFragmentRateLimiter(cfg.MaxFragsPerSource, cfg.RateLimitWindow),
	}
}

// add stores one fragment. It returns the reassembled payload once the
// datagram is complete, nil while more fragments are awaited, or a non-zero
// reason when the fragment is refused. The payload is copied; the caller
// keeps ownership of its buffer.
func (r *reassembler) add(key fragmentKey, offset int, payload []byte, more bool, now time.Time) ([]byte, Reason) {
	if now.Sub(r.lastExpire) >= expireInterval {
		r.expire(now)
	}

	if len(payload) == 0 {
		return nil, FragmentTooSmall
	}
	end := offset + len(payload)
	if end > maxDatagramSize || end > r.config.MaxReassembleSize {
		r.evict(key)
		return nil, FragmentReassembledSizeTooLarge
	}
	if r.limiter != nil && !r.limiter.allow(key.src, now) {
		return nil, FragmentRateLimited
	}

	fl, exists := r.flows[key]
	if !exists {
		fl = &fragmentList{}
		r.flows[key] = fl
		metrics.ReassemblyActiveFlows.Inc()
	}

	if fl.list.Len() >= maxFragmentListLen || fl.list.Len() >= r.config.MaxFragments {
		r.evict(key)
		return nil, FragmentRejected
	}
	if !more && fl.finalReceived && end != fl.highest {
		// Two different final lengths for the same datagram.
		r.evict(key)
		return nil, FragmentRejected
	}
	if fl.finalReceived && end > fl.highest {
		r.evict(key)
		return nil, FragmentRejected
	}
	if !more && end < fl.highest {
		// Stored data lies past the declared end of the datagram.
		r.evict(key)
		return nil, FragmentRejected
	}

	fl.lastSeen = now
	if !more {
		fl.finalReceived = true
		fl.highest = end
	}
	fl.insert(offset, payload)

	if fl.finalReceived && fl.current >= fl.highest {
		result := fl.build()
		r.evict(key)
		return result, 0
	}
	return nil, 0
}

// insert places a fragment using the BSD-Right policy.
func (fl *fragmentList) insert(offset int, payload []byte) {
	fragEnd := offset + len(payload)
	if fragEnd > fl.highest && !fl.finalReceived {
		fl.highest = fragEnd
	}

	var insertBefore *list.Element
	for e := fl.list.Front(); e != nil; e = e.Next() {
		if e.Value.(*fragment).offset >= offset {
			insertBefore = e
			break
		}
	}

	startAt := offset
	var prev *list.Element
	if insertBefore != nil {
		prev = insertBefore.Prev()
	} else {
		prev = fl.list.Back()
	}
	if prev != nil {
		if prevEnd := prev.Value.(*fragment).end(); prevEnd > startAt {
			startAt = prevEnd
		}
	}

	endAt := fragEnd
	if insertBefore != nil {
		if next := insertBefore.Value.(*fragment); next.offset < endAt {
			endAt = next.offset
		}
	}

	if startAt >= endAt {
		return
	}

	trimmed := &fragment{
		offset:  startAt,
		payload: append([]byte(nil), payload[startAt-offset:endAt-offset]...),
	}
	if insertBefore != nil {
		fl.list.InsertBefore(trimmed, insertBefore)
	} else {
		fl.list.PushBack(trimmed)
	}
	fl.current += len(trimmed.payload)
}

// build copies every fragment into one contiguous payload.
func (fl *fragmentList) build() []byte {
	result := make([]byte, fl.highest)
	for e := fl.list.Front(); e != nil; e = e.Next() {
		frag := e.Value.(*fragment)
		copy(result[frag.offset:], frag.payload)
	}
	return result
}

func (r *reassembler) evict(key fragmentKey) {
	if _, exists := r.flows[key]; exists {
		delete(r.flows, key)
		metrics.ReassemblyActiveFlows.Dec()
	}
}

// expire discards partial datagrams idle for longer than the timeout.
func (r *reassembler) expire(now time.Time) int {
	r.lastExpire = now
	expired := 0
	for key, fl := range r.flows {
		if now.Sub(fl.lastSeen) > r.config.Timeout {
			delete(r.flows, key)
			expired++
		}
	}
	if expired > 0 {
		metrics.ReassemblyActiveFlows.Sub(float64(expired))
	}
	return expired
}

// pending returns the number of incomplete datagrams.
func (r *reassembler) pending() int { return len(r.flows) }

// reassembledPacket presents a reassembled datagram as a packet buffer.
// Freeing it releases the frame that carried the last fragment.
type reassembledPacket struct {
	carrier core.PacketBuffer
	data    []byte
}

func (p *reassembledPacket) Len() int      { return len(p.data) }
func (p *reassembledPacket) Bytes() []byte { return p.data }
func (p *reassembledPacket) Free()         { p.carrier.Free() }
