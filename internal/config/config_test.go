package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/ingress"
	"firestige.xyz/ingress/internal/core/policy"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

const validConfig = `
ingress:
  interface:
    name: "eth1"
    mac: "02:00:00:00:00:01"
    addresses: ["10.0.0.1", "fd00::1"]
    groups: ["239.1.2.3", "ff02::1:3"]
    denied_macs: ["02:00:00:00:00:66"]
    denied_sources: ["192.0.2.0/24", "!192.0.2.128/25"]
  validation:
    tag_stripping: "vlan"
    reject_ipv4_options: true
  reassembly:
    enabled: true
    timeout: "5s"
    max_frags_per_source: 50
  vlans:
    allow_untagged: false
    single:
      - id: 10
        honour_dei: true
        priorities: [0, 5]
    qinq:
      - outer: 100
        inner: 10
        outer_rule:
          priorities: [3]
  log:
    level: "debug"
    format: "text"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yml", validConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Interface.Name != "eth1" {
		t.Errorf("Expected interface eth1, got %s", cfg.Interface.Name)
	}
	if len(cfg.Interface.Addresses) != 2 {
		t.Errorf("Expected 2 addresses, got %v", cfg.Interface.Addresses)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Expected debug/text logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if !cfg.Reassembly.Enabled || cfg.Reassembly.Timeout != "5s" {
		t.Errorf("Unexpected reassembly config %+v", cfg.Reassembly)
	}
	if len(cfg.Vlans.Single) != 1 || cfg.Vlans.Single[0].ID != 10 || !cfg.Vlans.Single[0].HonourDropEligible {
		t.Errorf("Unexpected vlan rules %+v", cfg.Vlans.Single)
	}

	// Defaults fill in what the file leaves out.
	if !cfg.Validation.AcceptEthernetPadding {
		t.Error("Expected accept_ethernet_padding default true")
	}
	if cfg.Validation.MinimumNonFinalFragmentLength != 1280 {
		t.Errorf("Expected minimum fragment length 1280, got %d", cfg.Validation.MinimumNonFinalFragmentLength)
	}
	if cfg.Reassembly.MaxFragments != 100 {
		t.Errorf("Expected max_fragments 100, got %d", cfg.Reassembly.MaxFragments)
	}
	if cfg.Pipeline.QueueSize != 1024 {
		t.Errorf("Expected queue_size 1024, got %d", cfg.Pipeline.QueueSize)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Expected metrics path /metrics, got %s", cfg.Metrics.Path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("INGRESS_LOG_LEVEL", "warn")
	t.Setenv("INGRESS_PIPELINE_WORKERS", "3")

	cfg, err := Load(writeFile(t, "config.yml", validConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env override warn, got %s", cfg.Log.Level)
	}
	if cfg.Pipeline.Workers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Pipeline.Workers)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", `
ingress:
  interface: {mac: "02:00:00:00:00:01"}
  log: {level: "invalid"}
`},
		{"log format", `
ingress:
  interface: {mac: "02:00:00:00:00:01"}
  log: {format: "xml"}
`},
		{"missing mac", `
ingress:
  interface: {name: "eth0"}
`},
		{"discover without name", `
ingress:
  interface: {discover: true}
`},
		{"tag stripping", `
ingress:
  interface: {mac: "02:00:00:00:00:01"}
  validation: {tag_stripping: "all"}
`},
		{"duration", `
ingress:
  interface: {mac: "02:00:00:00:00:01"}
  reassembly: {timeout: "forever"}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yml", tt.content))
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log defaults %+v", cfg.Log)
	}
	if !cfg.Vlans.AllowUntagged {
		t.Error("Expected untagged frames to be admitted by default")
	}
}

func TestCompile(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yml", validConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	c, err := cfg.Compile(nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := ingress.DefaultConfig()
	want.TagStripping = ingress.StripVlan
	want.RejectIPv4Options = true
	want.Reassembly = ingress.ReassemblyConfig{
		Enabled:           true,
		MaxFragments:      100,
		MaxReassembleSize: 65535,
		Timeout:           5 * time.Second,
		MaxFragsPerSource: 50,
		RateLimitWindow:   10 * time.Second,
	}
	if diff := cmp.Diff(want, c.Ingress); diff != "" {
		t.Errorf("ingress config mismatch (-want +got):\n%s", diff)
	}

	a := c.Addresses
	if a.OurMac() != (core.MacAddress{0x02, 0, 0, 0, 0, 1}) {
		t.Errorf("Unexpected MAC %s", a.OurMac())
	}
	for _, s := range []string{"10.0.0.1", "fd00::1"} {
		if !a.IsOneOfOurs(netip.MustParseAddr(s)) {
			t.Errorf("%s should be ours", s)
		}
	}
	if !a.HasJoined(netip.MustParseAddr("ff02::1:3")) {
		t.Error("ff02::1:3 should be joined")
	}
	if !a.IsDeniedMac(core.MacAddress{0x02, 0, 0, 0, 0, 0x66}) {
		t.Error("denied MAC not compiled")
	}
	if !a.IsDeniedSource(netip.MustParseAddr("192.0.2.1")) || a.IsDeniedSource(netip.MustParseAddr("192.0.2.200")) {
		t.Error("deny-list exception not honoured")
	}

	v := c.Vlans
	if v.Untagged() {
		t.Error("untagged frames should be refused")
	}
	p, ok := v.Vlan(10)
	if !ok {
		t.Fatal("vlan 10 missing")
	}
	if diff := cmp.Diff(policy.TagPolicy{HonourDropEligible: true, AllowedPriorities: 1<<0 | 1<<5}, p); diff != "" {
		t.Errorf("vlan 10 policy mismatch (-want +got):\n%s", diff)
	}
	q, ok := v.QinQ(100, 10)
	if !ok {
		t.Fatal("qinq 100/10 missing")
	}
	if q.Outer.AllowedPriorities != 1<<3 || q.Inner.AllowedPriorities != policy.AllPriorities {
		t.Errorf("Unexpected qinq policy %+v", q)
	}
}

func TestCompileDiscover(t *testing.T) {
	cfg := Default()
	cfg.Interface = InterfaceConfig{Name: "eth9", Discover: true, Addresses: []string{"10.9.9.9"}}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	discovered := &Discovered{
		Index:     7,
		Mac:       core.MacAddress{0x02, 0, 0, 0, 0, 9},
		Addresses: []netip.Addr{netip.MustParseAddr("10.0.0.9")},
	}
	var asked string
	c, err := cfg.Compile(func(name string) (*Discovered, error) {
		asked = name
		return discovered, nil
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if asked != "eth9" {
		t.Errorf("discovered %q, want eth9", asked)
	}
	if c.InterfaceIndex != 7 || c.Addresses.OurMac() != discovered.Mac {
		t.Errorf("discovered values not applied: index %d mac %s", c.InterfaceIndex, c.Addresses.OurMac())
	}
	for _, s := range []string{"10.0.0.9", "10.9.9.9"} {
		if !c.Addresses.IsOneOfOurs(netip.MustParseAddr(s)) {
			t.Errorf("%s should be ours", s)
		}
	}

	_, err = cfg.Compile(func(string) (*Discovered, error) { return nil, core.ErrInterfaceNotFound })
	if !errors.Is(err, core.ErrInterfaceNotFound) {
		t.Errorf("Expected ErrInterfaceNotFound, got %v", err)
	}
}

func TestCompileRejectsBadAddresses(t *testing.T) {
	tests := []struct {
		name string
		ifc  InterfaceConfig
		want error
	}{
		{"group mac", InterfaceConfig{Mac: "01:00:5e:00:00:01"}, core.ErrConfigInvalid},
		{"bad mac", InterfaceConfig{Mac: "02:00:00"}, core.ErrInvalidMacAddress},
		{"loopback", InterfaceConfig{Mac: "02:00:00:00:00:01", Addresses: []string{"127.0.0.1"}}, core.ErrConfigInvalid},
		{"group", InterfaceConfig{Mac: "02:00:00:00:00:01", Groups: []string{"10.0.0.1"}}, core.ErrConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Interface = tt.ifc
			if _, err := cfg.Compile(nil); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadVlanPolicyFile(t *testing.T) {
	yamlPolicy := `
allow_untagged: false
single:
  - id: 20
    priorities: [1]
qinq:
  - outer: 200
    inner: 20
`
	jsonPolicy := `{"single": [{"id": 30, "honour_dei": true}], "qinq": [{"outer": 300, "inner": 30}]}`

	vc := VlanConfig{AllowUntagged: true, Single: []VlanRule{{ID: 10}}}
	if err := LoadVlanPolicyFile(writeFile(t, "vlans.yaml", yamlPolicy), &vc); err != nil {
		t.Fatalf("yaml policy: %v", err)
	}
	if err := LoadVlanPolicyFile(writeFile(t, "vlans.json", jsonPolicy), &vc); err != nil {
		t.Fatalf("json policy: %v", err)
	}
	if vc.AllowUntagged {
		t.Error("allow_untagged from file not applied")
	}

	table, err := BuildVlanTable(vc)
	if err != nil {
		t.Fatalf("BuildVlanTable failed: %v", err)
	}
	if table.Len() != 5 {
		t.Errorf("Expected 5 entries, got %d", table.Len())
	}
	if p, ok := table.Vlan(30); !ok || !p.HonourDropEligible {
		t.Errorf("vlan 30 from json not compiled: %+v %v", p, ok)
	}
	if p, ok := table.Vlan(20); !ok || p.AllowedPriorities != 1<<1 {
		t.Errorf("vlan 20 from yaml not compiled: %+v %v", p, ok)
	}
}

func TestVlanPolicyErrors(t *testing.T) {
	if err := LoadVlanPolicyFile(writeFile(t, "vlans.yaml", "single:\n  - id: 1\n    colour: red\n"), &VlanConfig{}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown key: expected ErrConfigInvalid, got %v", err)
	}
	if err := LoadVlanPolicyFile(writeFile(t, "vlans.json", "{"), &VlanConfig{}); err == nil {
		t.Error("malformed json: expected error")
	}

	tests := []struct {
		name string
		vc   VlanConfig
		want error
	}{
		{"duplicate", VlanConfig{Single: []VlanRule{{ID: 5}, {ID: 5}}}, core.ErrVlanPolicyConflict},
		{"reserved id", VlanConfig{Single: []VlanRule{{ID: 4095}}}, core.ErrConfigInvalid},
		{"priority", VlanConfig{Single: []VlanRule{{ID: 5, TagRule: TagRule{Priorities: []int{8}}}}}, core.ErrConfigInvalid},
		{"duplicate qinq", VlanConfig{QinQ: []QinQRule{{Outer: 1, Inner: 2}, {Outer: 1, Inner: 2}}}, core.ErrVlanPolicyConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildVlanTable(tt.vc); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDiscoverInterfaceNotFound(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("netlink is linux only")
	}
	_, err := DiscoverInterface("ingress-absent0")
	if err == nil {
		t.Fatal("Expected error for missing interface, got nil")
	}
	if !errors.Is(err, core.ErrInterfaceNotFound) {
		t.Skipf("netlink unavailable: %v", err)
	}
}
