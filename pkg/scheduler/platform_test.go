package scheduler

import (
	"testing"

	"github.com/srand/jolt/coordinator/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestPlatform(t *testing.T) {
	p := NewPlatform()
	p.AddProperty("node.arch", "amd64")
	p.AddProperty("node.os", "linux")
	p.AddProperty("label", "gpu")
	p.AddProperty("label", "large")

	r := NewPlatform()
	assert.True(t, p.Fulfills(r))
	assert.True(t, p.Fulfills(nil))

	r.AddProperty("node.arch", "amd64")
	assert.True(t, p.Fulfills(r))

	r.AddProperty("label", "large")
	assert.True(t, p.Fulfills(r))

	r.AddProperty("node.os", "windows")
	assert.False(t, p.Fulfills(r))

	values, ok := p.GetPropertiesForKey("label")
	assert.True(t, ok)
	assert.Equal(t, []string{"gpu", "large"}, values)
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform([]string{"label=test", " node.os = linux"})
	assert.NoError(t, err)
	assert.Equal(t, "label=test\nnode.os=linux\n", p.String())

	_, err = ParsePlatform([]string{"label"})
	assert.ErrorIs(t, err, utils.ErrParse)
}

func TestPlatformFromProperties(t *testing.T) {
	p := PlatformFromProperties(map[string]string{
		"platform.node.os": "linux",
		"platform.label":   "gpu",
		"reason":           "nightly",
	})
	assert.Equal(t, "label=gpu\nnode.os=linux\n", p.String())
}
