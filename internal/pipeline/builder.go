package pipeline

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/ingress/internal/core/ingress"
	"firestige.xyz/ingress/internal/core/policy"
	"firestige.xyz/ingress/internal/source"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			QueueSize: 1024,
			Ingress:   ingress.DefaultConfig(),
		},
	}
}

// WithWorkers sets the number of workers.
func (b *Builder) WithWorkers(n int) *Builder {
	b.config.Workers = n
	return b
}

// WithQueueSize sets the per-worker queue capacity.
func (b *Builder) WithQueueSize(size int) *Builder {
	b.config.QueueSize = size
	return b
}

// WithExpireInterval sets how often workers sweep the reassembly queue.
func (b *Builder) WithExpireInterval(d time.Duration) *Builder {
	b.config.ExpireInterval = d
	return b
}

// WithIngress sets the validation switches.
func (b *Builder) WithIngress(cfg ingress.Config) *Builder {
	b.config.Ingress = cfg
	return b
}

// WithPolicies sets the address and VLAN tables.
func (b *Builder) WithPolicies(addrs *policy.Addresses, vlans *policy.VlanTable) *Builder {
	b.config.Addresses = addrs
	b.config.Vlans = vlans
	return b
}

// WithSource sets the frame source.
func (b *Builder) WithSource(s source.Source) *Builder {
	b.config.Source = s
	return b
}

// WithLogger sets the logger and the drop logging rate.
func (b *Builder) WithLogger(l *slog.Logger, limit rate.Limit, burst int) *Builder {
	b.config.Logger = l
	b.config.DropLogRate = limit
	b.config.DropLogBurst = burst
	return b
}

// WithLayer4 sets the per-worker layer-4 handler factory.
func (b *Builder) WithLayer4(f func(worker int) ingress.Layer4Dispatch) *Builder {
	b.config.Layer4 = f
	return b
}

// WithClock overrides the reassembly clock.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.config.Clock = clock
	return b
}

// WithFrameClock drives reassembly timeouts from frame timestamps.
func (b *Builder) WithFrameClock(enabled bool) *Builder {
	b.config.FrameClock = enabled
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config)
}
