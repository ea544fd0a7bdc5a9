// Package source defines where frames come from: capture files for replay
// and, on Linux, live AF_PACKET sockets.
package source

import (
	"context"

	"firestige.xyz/ingress/internal/core"
)

// Source produces Ethernet frames in pooled buffers. ReadFrame returns io.EOF
// when the source is exhausted; the caller owns every returned buffer.
type Source interface {
	Name() string
	Start(ctx context.Context) error
	ReadFrame() (*core.Buffer, error)
	Stats() Stats
	Stop() error
}

// Stats counts frames the source read and the ones it skipped.
type Stats struct {
	Read      uint64 // Frames handed to the caller
	Filtered  uint64 // Rejected by the BPF filter
	Truncated uint64 // Captured shorter than on the wire
	Oversized uint64 // Larger than a pool buffer
}
