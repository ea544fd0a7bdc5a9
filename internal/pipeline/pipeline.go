// Package pipeline runs the validator over a frame source with a pool of
// shared-nothing workers.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/checksum"
	"firestige.xyz/ingress/internal/core/ingress"
	"firestige.xyz/ingress/internal/core/policy"
	"firestige.xyz/ingress/internal/metrics"
	"firestige.xyz/ingress/internal/source"
)

// Config contains pipeline configuration.
type Config struct {
	Workers        int // 0 = GOMAXPROCS
	QueueSize      int // Per-worker channel capacity
	ExpireInterval time.Duration

	Ingress   ingress.Config
	Addresses *policy.Addresses
	Vlans     *policy.VlanTable
	Source    source.Source

	Logger       *slog.Logger
	DropLogRate  rate.Limit
	DropLogBurst int

	// Layer4 optionally supplies the per-worker handler behind the counting sink.
	Layer4 func(worker int) ingress.Layer4Dispatch
	Clock  func() time.Time
	// FrameClock makes reassembly timeouts follow frame timestamps, falling
	// back to Clock until the first stamped frame. Used for replay.
	FrameClock bool
}

// Pipeline reads frames from one source and fans them out to workers. Each
// worker owns a Dispatcher; a frame's worker is chosen by its source MAC so
// per-sender order is preserved.
type Pipeline struct {
	source         source.Source
	workers        []*worker
	expireInterval time.Duration
	logger         *slog.Logger
	drops          *LoggingObserver

	sourceStats source.Stats // Written by the reader before Run returns
}

type worker struct {
	id         int
	dispatcher *ingress.Dispatcher
	clock      func() time.Time
	fallback   func() time.Time
	frameTime  time.Time // Timestamp of the latest frame, frame clock only
	in         chan *core.Buffer
	metrics    *Metrics
	arp        *ArpTable
	depth      prometheus.Gauge
	reassembly ingress.ReassemblyStats // Written when the worker exits
	arpEntries int                     // Written when the worker exits
}

// New creates a pipeline and one dispatcher per worker.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: pipeline source is required", core.ErrConfigInvalid)
	}
	if cfg.Addresses == nil || cfg.Vlans == nil {
		return nil, fmt.Errorf("%w: address and VLAN policies are required", core.ErrConfigInvalid)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DropLogRate == 0 {
		cfg.DropLogRate = 10
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	p := &Pipeline{
		source:         cfg.Source,
		expireInterval: cfg.ExpireInterval,
		logger:         cfg.Logger.With("component", "pipeline"),
		drops:          NewLoggingObserver(cfg.Logger.With("component", "ingress"), cfg.DropLogRate, cfg.DropLogBurst),
	}

	for i := 0; i < cfg.Workers; i++ {
		m := NewMetrics(i)
		arp := NewArpTable(m)
		var next ingress.Layer4Dispatch
		if cfg.Layer4 != nil {
			next = cfg.Layer4(i)
		}
		w := &worker{
			id:       i,
			in:       make(chan *core.Buffer, cfg.QueueSize),
			metrics:  m,
			arp:      arp,
			depth:    metrics.WorkerQueueDepth.WithLabelValues(strconv.Itoa(i)),
			clock:    cfg.Clock,
			fallback: cfg.Clock,
		}
		if cfg.FrameClock {
			w.clock = w.frameClock
		}
		d, err := ingress.NewDispatcher(cfg.Ingress, ingress.Collaborators{
			Addresses:    cfg.Addresses,
			DenyList:     cfg.Addresses,
			Vlans:        cfg.Vlans,
			Checksum:     checksum.Verifier{},
			Observer:     Observers{NewMetricsObserver(m), p.drops},
			ArpCache:     arp,
			ArpResponder: NewReplyRecorder(m, cfg.Logger.With("component", "arp")),
			Layer4:       NewSink(m, next),
			Clock:        w.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		w.dispatcher = d
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// Run starts the source and the workers and returns when the source is
// exhausted, ctx is cancelled, or a reader error occurs. Cancellation is not
// an error.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.source.Stop(); err != nil {
			p.logger.Warn("source stop failed", "error", err)
		}
	}()

	resolution := time.Second / time.Duration(core.TimestampFrequency())
	p.logger.Info("pipeline starting",
		"source", p.source.Name(),
		"workers", len(p.workers),
		"clock_resolution", resolution.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			w.run(gctx, p.expireInterval)
			return nil
		})
	}
	g.Go(func() error {
		defer func() {
			for _, w := range p.workers {
				close(w.in)
			}
		}()
		return p.read(gctx)
	})

	err := g.Wait()
	p.logger.Info("pipeline stopped", "received", p.Stats().Received)
	return err
}

// read moves frames from the source to the workers.
func (p *Pipeline) read(ctx context.Context) error {
	defer func() { p.sourceStats = p.source.Stats() }()
	n := uint32(len(p.workers))
	for ctx.Err() == nil {
		b, err := p.source.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		w := p.workers[shard(b.Bytes(), n)]
		select {
		case w.in <- b:
			w.depth.Set(float64(len(w.in)))
		case <-ctx.Done():
			b.Free()
		}
	}
	return nil
}

// shard hashes the source MAC (FNV-1a) to pick a worker.
func shard(frame []byte, n uint32) uint32 {
	if n <= 1 || len(frame) < 12 {
		return 0
	}
	h := uint32(2166136261)
	for _, c := range frame[6:12] {
		h ^= uint32(c)
		h *= 16777619
	}
	return h % n
}

func (w *worker) run(ctx context.Context, expireInterval time.Duration) {
	defer func() {
		w.reassembly = w.dispatcher.Reassembly()
		w.arpEntries = w.arp.Len()
	}()

	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-w.in:
			if !ok {
				return
			}
			w.process(b)
		case <-ticker.C:
			if n := w.dispatcher.Expire(w.clock()); n > 0 {
				w.metrics.Expired.Add(uint64(n))
			}
		case <-ctx.Done():
			// The reader closes the queue once it sees the cancellation.
			for b := range w.in {
				b.Free()
			}
			return
		}
	}
}

func (w *worker) process(b *core.Buffer) {
	w.metrics.Received.Add(1)
	w.depth.Set(float64(len(w.in)))

	if !b.Timestamp.IsZero() {
		w.frameTime = b.Timestamp
	}
	off := b.Offload
	start := time.Now()
	w.dispatcher.Process(b, &off)
	metrics.ProcessLatencySeconds.Observe(time.Since(start).Seconds())
}

// frameClock reports the latest frame timestamp. It is only called from the
// worker goroutine.
func (w *worker) frameClock() time.Time {
	if w.frameTime.IsZero() {
		return w.fallback()
	}
	return w.frameTime
}

// Stats is a snapshot of the pipeline counters. Reassembly, ArpEntries and
// Source are filled in once Run has returned.
type Stats struct {
	Received   uint64
	Forwarded  uint64
	Dropped    uint64
	Reused     uint64
	ArpLearned uint64
	ArpReplies uint64
	Expired    uint64
	ArpEntries int // Bindings held across all workers

	Drops     map[ingress.Reason]uint64
	Delivered map[ingress.Layer4Protocol]uint64

	Reassembly ingress.ReassemblyStats
	Source     source.Stats
}

// ReasonCount pairs a reason with its number of occurrences.
type ReasonCount struct {
	Reason ingress.Reason
	Count  uint64
}

// TopDrops returns drop reasons ordered by count, most frequent first.
func (s Stats) TopDrops() []ReasonCount {
	out := make([]ReasonCount, 0, len(s.Drops))
	for r, n := range s.Drops {
		out = append(out, ReasonCount{r, n})
	}
	slices.SortFunc(out, func(a, b ReasonCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Reason, b.Reason)
	})
	return out
}

// Stats returns pipeline statistics summed over the workers.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Drops:     make(map[ingress.Reason]uint64),
		Delivered: make(map[ingress.Layer4Protocol]uint64),
		Source:    p.sourceStats,
	}
	for _, w := range p.workers {
		m := w.metrics
		s.Received += m.Received.Load()
		s.Forwarded += m.Forwarded.Load()
		s.Dropped += m.Dropped.Load()
		s.Reused += m.Reused.Load()
		s.ArpLearned += m.ArpLearned.Load()
		s.ArpReplies += m.ArpReplies.Load()
		s.Expired += m.Expired.Load()
		for i := range m.reasons {
			if n := m.reasons[i].Load(); n > 0 {
				s.Drops[ingress.Reason(i)] += n
			}
			if n := m.protocols[i].Load(); n > 0 {
				s.Delivered[ingress.Layer4Protocol(i)] += n
			}
		}
		s.ArpEntries += w.arpEntries
		s.Reassembly.Pending += w.reassembly.Pending
		s.Reassembly.RateLimited += w.reassembly.RateLimited
		s.Reassembly.Sources += w.reassembly.Sources
	}
	return s
}
