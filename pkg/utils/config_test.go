package utils

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name     string        `mapstructure:"name"`
	Interval time.Duration `mapstructure:"interval"`
	Merge    bool          `mapstructure:"merge"`
	Attempts int           `mapstructure:"attempts"`
	Tags     []string      `mapstructure:"tags"`
}

func TestUnmarshalConfigStrings(t *testing.T) {
	v := viper.New()
	v.Set("name", "coordinator")
	v.Set("interval", "15s")
	v.Set("merge", "yes")
	v.Set("attempts", "4")
	v.Set("tags", "a,b")

	cfg := &testConfig{}
	require.NoError(t, UnmarshalConfig(v, cfg))

	assert.Equal(t, "coordinator", cfg.Name)
	assert.Equal(t, 15*time.Second, cfg.Interval)
	assert.True(t, cfg.Merge)
	assert.Equal(t, 4, cfg.Attempts)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
}

func TestUnmarshalConfigBadBool(t *testing.T) {
	v := viper.New()
	v.Set("merge", "maybe")

	assert.Error(t, UnmarshalConfig(v, &testConfig{}))
}

func TestLoadConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/jolt/test.yaml", []byte(`
name: c1
interval: 2m
merge: false
attempts: 2
tags: [x, y]
`), 0644))

	cfg := &testConfig{}
	_, err := LoadConfigFile(fs, "/etc/jolt/test.yaml", cfg)
	require.NoError(t, err)

	assert.Equal(t, "c1", cfg.Name)
	assert.Equal(t, 2*time.Minute, cfg.Interval)
	assert.False(t, cfg.Merge)
	assert.Equal(t, 2, cfg.Attempts)
	assert.Equal(t, []string{"x", "y"}, cfg.Tags)

	_, err = LoadConfigFile(fs, "/missing.yaml", cfg)
	assert.Error(t, err)
}
