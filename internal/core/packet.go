// Package core defines core data structures with zero external dependencies.
package core

import (
	"sync"
	"time"
)

// PacketBuffer owns the raw contiguous memory of one received frame.
// Exactly one party frees it: the dispatcher on drop, or whoever the packet
// was forwarded to.
type PacketBuffer interface {
	// Len returns the frame length in bytes.
	Len() int
	// Bytes returns a view of the frame. The view is invalid after Free.
	Bytes() []byte
	// Free releases the buffer back to its arena.
	Free()
}

// ChecksumStatus is the NIC's verdict for one checksum.
type ChecksumStatus uint8

// Checksum statuses reported by the driver.
const (
	ChecksumUnknown ChecksumStatus = iota // not inspected by hardware
	ChecksumNone                          // no checksum present (e.g. IPv4 UDP with zero checksum)
	ChecksumGood
	ChecksumBad
)

func (s ChecksumStatus) String() string {
	switch s {
	case ChecksumNone:
		return "none"
	case ChecksumGood:
		return "good"
	case ChecksumBad:
		return "bad"
	}
	return "unknown"
}

// Offload is the hardware side channel delivered with a frame.
type Offload struct {
	Tunnel   bool // NIC classified the frame as tunnel-encapsulated
	Unwanted bool // NIC flagged the frame as administratively unwanted
	// StrippedTags is the number of tags (0-2) the NIC removed from the frame
	// and reported in OuterTCI/InnerTCI.
	StrippedTags uint8
	OuterTCI     TagControlInformation
	InnerTCI     TagControlInformation
	IPChecksum   ChecksumStatus
	L4Checksum   ChecksumStatus
}

// Buffer is a PacketBuffer backed by a pooled byte slice.
type Buffer struct {
	data []byte
	n    int
	pool *BufferPool

	Timestamp      time.Time // Capture timestamp
	OrigLen        uint32    // Original frame length on the wire
	InterfaceIndex int
	Offload        Offload
}

// NewBuffer wraps b without a pool; Free is a no-op.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: b, n: len(b)}
}

// Len implements PacketBuffer.
func (b *Buffer) Len() int { return b.n }

// Bytes implements PacketBuffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Free implements PacketBuffer.
func (b *Buffer) Free() {
	if b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil
	b.n = 0
	b.Offload = Offload{}
	p.put(b)
}

// Fill copies frame into the buffer.
func (b *Buffer) Fill(frame []byte) error {
	if len(frame) > cap(b.data) {
		return ErrBufferTooLarge
	}
	b.data = b.data[:cap(b.data)]
	b.n = copy(b.data, frame)
	return nil
}

// BufferPool is a fixed-slot arena of frame buffers.
type BufferPool struct {
	size   int
	pool   sync.Pool
	active sync.WaitGroup
}

// NewBufferPool creates an arena whose buffers hold up to size bytes.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = 65535
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		return &Buffer{data: make([]byte, size)}
	}
	return bp
}

// Get returns an empty buffer owned by the caller.
func (bp *BufferPool) Get() *Buffer {
	b := bp.pool.Get().(*Buffer)
	b.pool = bp
	bp.active.Add(1)
	return b
}

func (bp *BufferPool) put(b *Buffer) {
	bp.pool.Put(b)
	bp.active.Done()
}

// Wait blocks until every buffer handed out by Get has been freed.
func (bp *BufferPool) Wait() {
	bp.active.Wait()
}
