// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/ingress/internal/core"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `ingress:` root key in YAML.
type GlobalConfig struct {
	Interface  InterfaceConfig  `mapstructure:"interface"`
	Validation ValidationConfig `mapstructure:"validation"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
	Vlans      VlanConfig       `mapstructure:"vlans"`
	Source     SourceConfig     `mapstructure:"source"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─── Receiving Interface ───

// InterfaceConfig describes the addresses that belong to the receiving host.
type InterfaceConfig struct {
	Name     string `mapstructure:"name"`     // Used for discovery and as the metrics source label
	Discover bool   `mapstructure:"discover"` // Merge MAC and addresses from the kernel via netlink
	Mac      string `mapstructure:"mac"`

	Addresses     []string `mapstructure:"addresses"`      // IPv4/IPv6 host addresses
	Groups        []string `mapstructure:"groups"`         // Joined multicast groups
	DeniedMacs    []string `mapstructure:"denied_macs"`    // Source MAC deny-list
	DeniedSources []string `mapstructure:"denied_sources"` // Prefix deny-list, "!" prefix re-allows
}

// ─── Validation Switches ───

// ValidationConfig holds the strictness flags of the packet path.
type ValidationConfig struct {
	TagStripping          string `mapstructure:"tag_stripping"` // none | vlan | vlan+qinq
	AcceptEthernetPadding bool   `mapstructure:"accept_ethernet_padding"`

	RejectArpProbeWithNonZeroTargetHardwareAddress bool `mapstructure:"reject_arp_probe_with_non_zero_tha"`

	RejectIPv4Options                           bool `mapstructure:"reject_ipv4_options"`
	RequireZeroPaddingAfterEndOfList            bool `mapstructure:"require_zero_padding_after_eol"`
	RejectDontFragmentWithNonZeroIdentification bool `mapstructure:"reject_df_with_non_zero_id"`

	StrictIPv6FragmentReservedFields bool `mapstructure:"strict_ipv6_fragment_reserved_fields"`
	MinimumNonFinalFragmentLength    int  `mapstructure:"minimum_non_final_fragment_length"`
}

// ReassemblyConfig controls IP fragment reassembly.
type ReassemblyConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Timeout           string `mapstructure:"timeout"`
	MaxFragments      int    `mapstructure:"max_fragments"`
	MaxReassembleSize int    `mapstructure:"max_reassemble_size"`
	MaxFragsPerSource int    `mapstructure:"max_frags_per_source"` // 0 = unlimited
	RateLimitWindow   string `mapstructure:"rate_limit_window"`
}

// ─── VLAN Policy ───

// VlanConfig holds the VLAN admission table, inline or in a separate file.
type VlanConfig struct {
	AllowUntagged bool       `mapstructure:"allow_untagged"`
	PolicyFile    string     `mapstructure:"policy_file"` // YAML or JSON, by extension
	Single        []VlanRule `mapstructure:"single"`
	QinQ          []QinQRule `mapstructure:"qinq"`
}

// TagRule is the admission rule for one tag.
type TagRule struct {
	HonourDropEligible bool  `mapstructure:"honour_dei"`
	Priorities         []int `mapstructure:"priorities"` // Empty = every PCP
}

// VlanRule admits frames carrying one 802.1Q tag.
type VlanRule struct {
	ID      int `mapstructure:"id"`
	TagRule `mapstructure:",squash"`
}

// QinQRule admits frames carrying an (outer, inner) tag pair.
type QinQRule struct {
	Outer     int     `mapstructure:"outer"`
	Inner     int     `mapstructure:"inner"`
	OuterRule TagRule `mapstructure:"outer_rule"`
	InnerRule TagRule `mapstructure:"inner_rule"`
}

// ─── Source & Pipeline ───

// SourceConfig configures the frame source.
type SourceConfig struct {
	File       string `mapstructure:"file"`        // pcap or pcapng capture
	FilterFile string `mapstructure:"filter_file"` // Classic BPF program as JSON
	SnapLen    int    `mapstructure:"snap_len"`
}

// PipelineConfig configures the worker pool.
type PipelineConfig struct {
	Workers        int     `mapstructure:"workers"` // 0 = GOMAXPROCS
	QueueSize      int     `mapstructure:"queue_size"`
	ExpireInterval string  `mapstructure:"expire_interval"`
	DropLogRate    float64 `mapstructure:"drop_log_rate"` // Drop events logged per second
	DropLogBurst   int     `mapstructure:"drop_log_burst"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `ingress: ...`.
type configRoot struct {
	Ingress GlobalConfig `mapstructure:"ingress"`
}

// Load loads configuration from file.
// The YAML file uses `ingress:` as root key; env vars map through the key
// replacer (e.g. key "ingress.log.level" → env "INGRESS_LOG_LEVEL").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Ingress

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration built from defaults alone.
func Default() *GlobalConfig {
	v := viper.New()
	setDefaults(v)
	var root configRoot
	// Defaults are always decodable.
	_ = v.Unmarshal(&root)
	cfg := root.Ingress
	return &cfg
}

// setDefaults sets default values for configuration.
// All keys use the "ingress." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Validation defaults
	v.SetDefault("ingress.validation.tag_stripping", "none")
	v.SetDefault("ingress.validation.accept_ethernet_padding", true)
	v.SetDefault("ingress.validation.reject_arp_probe_with_non_zero_tha", false)
	v.SetDefault("ingress.validation.reject_ipv4_options", false)
	v.SetDefault("ingress.validation.require_zero_padding_after_eol", true)
	v.SetDefault("ingress.validation.reject_df_with_non_zero_id", false)
	v.SetDefault("ingress.validation.strict_ipv6_fragment_reserved_fields", true)
	v.SetDefault("ingress.validation.minimum_non_final_fragment_length", 1280)

	// Reassembly defaults
	v.SetDefault("ingress.reassembly.enabled", false)
	v.SetDefault("ingress.reassembly.timeout", "60s")
	v.SetDefault("ingress.reassembly.max_fragments", 100)
	v.SetDefault("ingress.reassembly.max_reassemble_size", 65535)
	v.SetDefault("ingress.reassembly.max_frags_per_source", 0)
	v.SetDefault("ingress.reassembly.rate_limit_window", "10s")

	// VLAN defaults
	v.SetDefault("ingress.vlans.allow_untagged", true)

	// Source defaults
	v.SetDefault("ingress.source.snap_len", 65535)

	// Pipeline defaults
	v.SetDefault("ingress.pipeline.workers", 0)
	v.SetDefault("ingress.pipeline.queue_size", 1024)
	v.SetDefault("ingress.pipeline.expire_interval", "10s")
	v.SetDefault("ingress.pipeline.drop_log_rate", 10.0)
	v.SetDefault("ingress.pipeline.drop_log_burst", 20)

	// Metrics defaults
	v.SetDefault("ingress.metrics.enabled", false)
	v.SetDefault("ingress.metrics.listen", ":9091")
	v.SetDefault("ingress.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("ingress.log.level", "info")
	v.SetDefault("ingress.log.format", "json")
	v.SetDefault("ingress.log.outputs.file.enabled", false)
	v.SetDefault("ingress.log.outputs.file.path", "/var/log/ingress/ingress.log")
	v.SetDefault("ingress.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("ingress.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("ingress.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("ingress.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// It does not touch the network; interface discovery happens in Compile.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %q (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Interface ──
	if cfg.Interface.Discover && cfg.Interface.Name == "" {
		return fmt.Errorf("%w: interface.name is required when interface.discover=true", core.ErrConfigInvalid)
	}
	if !cfg.Interface.Discover && cfg.Interface.Mac == "" {
		return fmt.Errorf("%w: interface.mac is required unless interface.discover=true", core.ErrConfigInvalid)
	}
	if cfg.Interface.Name == "" {
		cfg.Interface.Name = "default"
	}

	// ── Validation ──
	switch cfg.Validation.TagStripping {
	case "", "none", "vlan", "vlan+qinq", "qinq":
	default:
		return fmt.Errorf("%w: tag_stripping %q (must be none/vlan/vlan+qinq)", core.ErrConfigInvalid, cfg.Validation.TagStripping)
	}
	if cfg.Validation.MinimumNonFinalFragmentLength < 0 {
		return fmt.Errorf("%w: minimum_non_final_fragment_length must not be negative", core.ErrConfigInvalid)
	}

	// ── Durations ──
	for key, d := range map[string]string{
		"reassembly.timeout":           cfg.Reassembly.Timeout,
		"reassembly.rate_limit_window": cfg.Reassembly.RateLimitWindow,
		"pipeline.expire_interval":     cfg.Pipeline.ExpireInterval,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%w: %s %q: %v", core.ErrConfigInvalid, key, d, err)
		}
	}

	// ── Pipeline ──
	if cfg.Pipeline.Workers < 0 {
		return fmt.Errorf("%w: pipeline.workers must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = 1024
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	return nil
}

// duration parses a validated duration string, falling back to def when empty.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
