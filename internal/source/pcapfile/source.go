// Package pcapfile replays pcap and pcapng captures.
package pcapfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/metrics"
	"firestige.xyz/ingress/internal/source"
)

// Name is the metrics label of file sources.
const Name = "pcapfile"

// pcapng files start with a section header block.
const ngSectionHeader = 0x0A0D0D0A

// packetReader is satisfied by both pcapgo readers. Returned data is only
// valid until the next read.
type packetReader interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Config configures a file source.
type Config struct {
	Path   string
	Filter *source.Filter // Optional
	Pool   *core.BufferPool
}

// Source reads Ethernet frames from a capture file.
type Source struct {
	path   string
	filter *source.Filter
	pool   *core.BufferPool

	file   *os.File
	reader packetReader
	stats  source.Stats
}

// New creates a file source. The file is opened by Start.
func New(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: capture file path is required", core.ErrConfigInvalid)
	}
	pool := cfg.Pool
	if pool == nil {
		pool = core.NewBufferPool(0)
	}
	return &Source{
		path:   cfg.Path,
		filter: cfg.Filter,
		pool:   pool,
	}, nil
}

// Name implements source.Source.
func (s *Source) Name() string { return Name }

// Start opens the capture and detects its format.
func (s *Source) Start(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", s.path, err)
	}

	r, err := newReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture file %s: %w", s.path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return fmt.Errorf("%w: %s has link type %s", core.ErrUnsupportedLinkType, s.path, lt)
	}

	s.file = f
	s.reader = r
	return nil
}

func newReader(f io.Reader) (packetReader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	// The section header block type is a palindrome, so byte order does not matter.
	if binary.LittleEndian.Uint32(magic) == ngSectionHeader {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// ReadFrame returns the next frame that passes the filter, or io.EOF.
func (s *Source) ReadFrame() (*core.Buffer, error) {
	if s.reader == nil {
		return nil, core.ErrSourceNotStarted
	}

	for {
		data, ci, err := s.reader.ZeroCopyReadPacketData()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}

		if ci.CaptureLength < ci.Length {
			s.stats.Truncated++
			metrics.SourceErrorsTotal.WithLabelValues(Name, "truncated").Inc()
			continue
		}
		if s.filter != nil && !s.filter.Match(data) {
			s.stats.Filtered++
			continue
		}

		b := s.pool.Get()
		if err := b.Fill(data); err != nil {
			b.Free()
			s.stats.Oversized++
			metrics.SourceErrorsTotal.WithLabelValues(Name, "oversized").Inc()
			continue
		}
		b.Timestamp = ci.Timestamp
		b.OrigLen = uint32(ci.Length)
		b.InterfaceIndex = ci.InterfaceIndex

		s.stats.Read++
		metrics.FramesReceivedTotal.WithLabelValues(Name).Inc()
		return b, nil
	}
}

// Stats implements source.Source.
func (s *Source) Stats() source.Stats { return s.stats }

// Stop closes the capture file.
func (s *Source) Stop() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.reader = nil
	return err
}
