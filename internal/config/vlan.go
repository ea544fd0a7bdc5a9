package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/policy"
)

// vlanPolicyFile is the layout of an external VLAN policy document.
type vlanPolicyFile struct {
	AllowUntagged *bool      `mapstructure:"allow_untagged"`
	Single        []VlanRule `mapstructure:"single"`
	QinQ          []QinQRule `mapstructure:"qinq"`
}

// LoadVlanPolicyFile merges the rules of a YAML or JSON policy file into vc.
// The format is chosen by extension; anything other than .json is YAML.
func LoadVlanPolicyFile(path string, vc *VlanConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read vlan policy file %s: %w", path, err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	default:
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return fmt.Errorf("failed to parse vlan policy file %s: %w", path, err)
	}

	var file vlanPolicyFile
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &file,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: vlan policy file %s: %v", core.ErrConfigInvalid, path, err)
	}

	if file.AllowUntagged != nil {
		vc.AllowUntagged = *file.AllowUntagged
	}
	vc.Single = append(vc.Single, file.Single...)
	vc.QinQ = append(vc.QinQ, file.QinQ...)
	return nil
}

// BuildVlanTable compiles the rules into the lookup table used by workers.
func BuildVlanTable(vc VlanConfig) (*policy.VlanTable, error) {
	t := policy.NewVlanTable(vc.AllowUntagged)
	for _, r := range vc.Single {
		id, err := vlanID(r.ID)
		if err != nil {
			return nil, err
		}
		p, err := r.TagRule.compile()
		if err != nil {
			return nil, fmt.Errorf("vlan %d: %w", id, err)
		}
		if err := t.AddVlan(id, p); err != nil {
			return nil, err
		}
	}
	for _, r := range vc.QinQ {
		outer, err := vlanID(r.Outer)
		if err != nil {
			return nil, err
		}
		inner, err := vlanID(r.Inner)
		if err != nil {
			return nil, err
		}
		op, err := r.OuterRule.compile()
		if err != nil {
			return nil, fmt.Errorf("qinq %d/%d outer: %w", outer, inner, err)
		}
		ip, err := r.InnerRule.compile()
		if err != nil {
			return nil, fmt.Errorf("qinq %d/%d inner: %w", outer, inner, err)
		}
		if err := t.AddQinQ(outer, inner, policy.QinQPolicy{Outer: op, Inner: ip}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// vlanID accepts 0 (priority tag) through 4094.
func vlanID(id int) (uint16, error) {
	if id < 0 || id >= int(core.VlanIDReserved) {
		return 0, fmt.Errorf("%w: vlan id %d out of range", core.ErrConfigInvalid, id)
	}
	return uint16(id), nil
}

func (r TagRule) compile() (policy.TagPolicy, error) {
	p := policy.TagPolicy{HonourDropEligible: r.HonourDropEligible}
	if len(r.Priorities) == 0 {
		p.AllowedPriorities = policy.AllPriorities
		return p, nil
	}
	for _, pcp := range r.Priorities {
		if pcp < 0 || pcp > 7 {
			return p, fmt.Errorf("%w: priority %d out of range", core.ErrConfigInvalid, pcp)
		}
		p.AllowedPriorities |= 1 << pcp
	}
	return p, nil
}
