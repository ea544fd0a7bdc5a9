package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/ingress/internal/config"
	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/ingress"
	"firestige.xyz/ingress/internal/log"
	"firestige.xyz/ingress/internal/metrics"
	"firestige.xyz/ingress/internal/pipeline"
	"firestige.xyz/ingress/internal/source"
)

// runFlags are the command-line overrides shared by replay and capture.
type runFlags struct {
	workers    int
	filterFile string
	metrics    string
}

// session is a loaded and compiled configuration ready to run.
type session struct {
	cfg      *config.GlobalConfig
	compiled *config.Compiled
	filter   *source.Filter
	logger   *slog.Logger
}

// prepare loads the config, applies flag overrides, installs the logger and
// compiles the policies. Logs go to console.
func prepare(path string, flags runFlags, console io.Writer, discover func(string) (*config.Discovered, error)) (*session, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.workers > 0 {
		cfg.Pipeline.Workers = flags.workers
	}
	if flags.filterFile != "" {
		cfg.Source.FilterFile = flags.filterFile
	}
	if flags.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = flags.metrics
	}

	logger, err := log.Init(cfg.Log, console)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	compiled, err := cfg.Compile(discover)
	if err != nil {
		return nil, fmt.Errorf("failed to compile config: %w", err)
	}

	var filter *source.Filter
	if cfg.Source.FilterFile != "" {
		if filter, err = source.LoadFilter(cfg.Source.FilterFile); err != nil {
			return nil, err
		}
	}

	return &session{cfg: cfg, compiled: compiled, filter: filter, logger: logger}, nil
}

// checkInlineTags rejects stripping modes that expect every tag in the side
// channel; live capture delivers tags inline.
func checkInlineTags(mode ingress.TagStripping) error {
	if mode == ingress.StripVlanAndQinQ {
		return fmt.Errorf("%w: tag_stripping %s needs a driver side channel; live capture delivers tags inline",
			core.ErrConfigInvalid, mode)
	}
	return nil
}

// run drives src through the pipeline until it is exhausted or ctx is done,
// then writes the summary to out. With frameClock set, fragment timeouts
// follow capture timestamps instead of the wall clock.
func (s *session) run(ctx context.Context, src source.Source, frameClock bool, out io.Writer) error {
	p, err := pipeline.NewBuilder().
		WithWorkers(s.cfg.Pipeline.Workers).
		WithQueueSize(s.cfg.Pipeline.QueueSize).
		WithExpireInterval(s.compiled.ExpireInterval).
		WithIngress(s.compiled.Ingress).
		WithPolicies(s.compiled.Addresses, s.compiled.Vlans).
		WithSource(src).
		WithLogger(s.logger, rate.Limit(s.cfg.Pipeline.DropLogRate), s.cfg.Pipeline.DropLogBurst).
		WithFrameClock(frameClock).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	if s.cfg.Metrics.Enabled {
		srv := metrics.NewServer(s.cfg.Metrics.Listen, s.cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				log.Component("metrics").Warn("server stop failed", "error", err)
			}
		}()
	}

	runErr := p.Run(ctx)
	printSummary(out, p.Stats())
	return runErr
}

// printSummary writes the end-of-run counters in a human readable form.
func printSummary(out io.Writer, st pipeline.Stats) {
	fmt.Fprintf(out, "frames:     %d received, %d forwarded, %d dropped, %d reused\n",
		st.Received, st.Forwarded, st.Dropped, st.Reused)
	fmt.Fprintf(out, "source:     %d read, %d filtered, %d truncated, %d oversized\n",
		st.Source.Read, st.Source.Filtered, st.Source.Truncated, st.Source.Oversized)
	fmt.Fprintf(out, "arp:        %d learned, %d bindings, %d replies\n", st.ArpLearned, st.ArpEntries, st.ArpReplies)
	fmt.Fprintf(out, "reassembly: %d pending, %d expired, %d rate limited\n",
		st.Reassembly.Pending, st.Expired, st.Reassembly.RateLimited)

	if len(st.Delivered) > 0 {
		fmt.Fprintln(out, "delivered:")
		for _, proto := range slices.Sorted(maps.Keys(st.Delivered)) {
			fmt.Fprintf(out, "  %-8s %d\n", proto, st.Delivered[proto])
		}
	}
	if drops := st.TopDrops(); len(drops) > 0 {
		fmt.Fprintln(out, "drops:")
		for _, d := range drops {
			fmt.Fprintf(out, "  %-40s %d\n", d.Reason, d.Count)
		}
	}
}
