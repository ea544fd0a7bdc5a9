package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonNames(t *testing.T) {
	seen := make(map[string]Reason)
	for _, r := range Reasons() {
		name := r.String()
		assert.NotEmpty(t, name, "reason %d has no name", uint8(r))
		if prev, dup := seen[name]; dup {
			t.Errorf("reasons %d and %d share the name %q", prev, r, name)
		}
		seen[name] = r
	}
	assert.Equal(t, "NoConfigurationFor8011QVirtualLan", NoConfigurationFor8011QVirtualLan.String())
	assert.Equal(t, "Reason(0)", Reason(0).String())
	assert.Equal(t, "Reason(255)", Reason(255).String())
}

func TestReasonIsFailure(t *testing.T) {
	for _, r := range Reasons() {
		assert.Equal(t, r != ReuseInReply, r.IsFailure(), r.String())
	}
}

func TestParseTagStripping(t *testing.T) {
	for in, want := range map[string]TagStripping{"": StripNone, "none": StripNone, "vlan": StripVlan, "vlan+qinq": StripVlanAndQinQ, "qinq": StripVlanAndQinQ} {
		got, err := ParseTagStripping(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTagStripping("all")
	assert.Error(t, err)
	assert.Equal(t, "vlan+qinq", StripVlanAndQinQ.String())
}
