package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigJSON(t *testing.T) {
	config := Config{
		Class: ClassConfig{Name: "jvm", MetricsNamespace: "objclass"},
		Native: NativeConfig{
			RangePolicy:   RangeStrict,
			MaxObjectSize: 4096,
			MaxHandles:    16,
			LogBacklog:    8,
		},
		Log: LogConfig{Level: "debug", Format: "json"},
	}
	expected := `{"class":{"name":"jvm","metrics_namespace":"objclass"},"native":{"range_policy":"strict","max_object_size":4096,"max_handles":16,"log_backlog":8},"log":{"level":"debug","format":"json"}}`

	bz, err := json.Marshal(config)
	require.NoError(t, err)
	assert.Equal(t, expected, string(bz))

	var decoded Config
	require.NoError(t, json.Unmarshal(bz, &decoded))
	assert.Equal(t, config, decoded)
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, DefaultNativeConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		valid  bool
	}{
		"default": {
			mutate: func(*Config) {},
			valid:  true,
		},
		"missing class name": {
			mutate: func(c *Config) { c.Class.Name = "" },
		},
		"unknown range policy": {
			mutate: func(c *Config) { c.Native.RangePolicy = "wrap" },
		},
		"negative object size": {
			mutate: func(c *Config) { c.Native.MaxObjectSize = -1 },
		},
		"unbounded object size": {
			mutate: func(c *Config) { c.Native.MaxObjectSize = 0 },
		},
		"too few handles": {
			mutate: func(c *Config) { c.Native.MaxHandles = 2 },
		},
		"zero backlog": {
			mutate: func(c *Config) { c.Native.LogBacklog = 0 },
		},
		"bad log level": {
			mutate: func(c *Config) { c.Log.Level = "loud" },
		},
		"metrics namespace with dash": {
			mutate: func(c *Config) { c.Class.MetricsNamespace = "obj-class" },
		},
		"strict policy": {
			mutate: func(c *Config) { c.Native.RangePolicy = RangeStrict },
			valid:  true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestConfigSchema(t *testing.T) {
	bz, err := ConfigSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(bz, &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties: %s", bz)
	assert.Contains(t, props, "class")
	assert.Contains(t, props, "native")
	assert.Contains(t, props, "log")
}
