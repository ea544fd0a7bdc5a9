//go:build linux && cgo

// Package afpacket captures frames from a live interface through a
// TPACKET_V3 memory-mapped ring.
package afpacket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/metrics"
	"firestige.xyz/ingress/internal/source"
)

// Name is the metrics label of live sources.
const Name = "afpacket"

// Config configures a live source.
type Config struct {
	Device       string
	SnapLen      int
	BufferSizeMB int
	PollTimeout  time.Duration
	FanoutID     uint16         // 0 disables fanout
	Filter       *source.Filter // Attached in the kernel
	Pool         *core.BufferPool
}

// Source reads frames from an AF_PACKET socket. The kernel strips the
// outermost 802.1Q tag on receive and reports only its VLAN ID out of band,
// so the ring is opened with the tag re-inserted inline: frames arrive with
// their full TCI and no side channel. A tag whose TCI is zero cannot be
// restored and the frame arrives untagged.
type Source struct {
	handle *afpacket.TPacket
	ctx    context.Context

	device      string
	ring        ringLayout
	pollTimeout time.Duration
	fanoutID    uint16
	filter      *source.Filter
	pool        *core.BufferPool
	stats       source.Stats
}

// New validates cfg and sizes the ring. The socket is opened by Start.
func New(cfg Config) (*Source, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: capture device is required", core.ErrConfigInvalid)
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 65535
	}
	if cfg.BufferSizeMB <= 0 {
		cfg.BufferSizeMB = 64
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	ring, err := planRing(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	pool := cfg.Pool
	if pool == nil {
		pool = core.NewBufferPool(cfg.SnapLen + core.VlanTagLen)
	}
	return &Source{
		device:      cfg.Device,
		ring:        ring,
		pollTimeout: cfg.PollTimeout,
		fanoutID:    cfg.FanoutID,
		filter:      cfg.Filter,
		pool:        pool,
	}, nil
}

// Name implements source.Source.
func (s *Source) Name() string { return Name }

// Start opens the ring and attaches fanout and filter.
func (s *Source) Start(ctx context.Context) error {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.device),
		afpacket.OptFrameSize(s.ring.frameSize),
		afpacket.OptBlockSize(s.ring.blockSize),
		afpacket.OptNumBlocks(s.ring.numBlocks),
		afpacket.OptPollTimeout(s.pollTimeout),
		afpacket.OptAddVLANHeader(true),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.device, err)
	}

	if s.fanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, s.fanoutID); err != nil {
			tp.Close()
			return fmt.Errorf("failed to join fanout group %d: %w", s.fanoutID, err)
		}
	}
	if s.filter != nil {
		if err := tp.SetBPF(s.filter.Raw()); err != nil {
			tp.Close()
			return fmt.Errorf("failed to attach filter: %w", err)
		}
	}

	s.handle = tp
	s.ctx = ctx
	return nil
}

// ReadFrame blocks until a frame arrives. It returns io.EOF once the context
// given to Start is done.
func (s *Source) ReadFrame() (*core.Buffer, error) {
	if s.handle == nil {
		return nil, core.ErrSourceNotStarted
	}
	for {
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) {
				if s.ctx.Err() != nil {
					return nil, io.EOF
				}
				continue
			}
			return nil, err
		}
		if ci.CaptureLength < ci.Length {
			s.stats.Truncated++
			metrics.SourceErrorsTotal.WithLabelValues(Name, "truncated").Inc()
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
		// ci.Length excludes the re-inserted tag.
		b.OrigLen = uint32(max(ci.Length, len(data)))
		b.InterfaceIndex = ci.InterfaceIndex

		s.stats.Read++
		metrics.FramesReceivedTotal.WithLabelValues(Name).Inc()
		return b, nil
	}
}

// Stats implements source.Source.
func (s *Source) Stats() source.Stats { return s.stats }

// Stop closes the ring.
func (s *Source) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
