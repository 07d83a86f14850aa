package types

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// RangePolicy decides how the native layer treats reads and writes that fall
// outside the stored object.
type RangePolicy string

const (
	// RangeClamp clamps reads to the end of the object and zero-fills writes
	// that start past the end.
	RangeClamp RangePolicy = "clamp"
	// RangeStrict fails such requests with -ERANGE.
	RangeStrict RangePolicy = "strict"
)

// DefaultMaxObjectSize is the default bound on a stored object, 128 MiB.
const DefaultMaxObjectSize = 128 << 20

var validate = validator.New()

// Config is the configuration of a class runtime.
type Config struct {
	Class  ClassConfig  `json:"class" mapstructure:"class"`
	Native NativeConfig `json:"native" mapstructure:"native"`
	Log    LogConfig    `json:"log" mapstructure:"log"`
}

type ClassConfig struct {
	Name string `json:"name" mapstructure:"name" validate:"required,max=64" jsonschema:"description=name the class is registered under"`
	// MetricsNamespace is the prometheus namespace; empty disables metrics.
	MetricsNamespace string `json:"metrics_namespace,omitempty" mapstructure:"metrics_namespace" validate:"omitempty,alphanum"`
}

type NativeConfig struct {
	RangePolicy RangePolicy `json:"range_policy" mapstructure:"range_policy" validate:"oneof=clamp strict" jsonschema:"enum=clamp,enum=strict"`
	// MaxObjectSize bounds the stored object in bytes.
	MaxObjectSize int `json:"max_object_size" mapstructure:"max_object_size" validate:"gte=1"`
	// MaxHandles bounds the handles minted by one invocation.
	MaxHandles int `json:"max_handles" mapstructure:"max_handles" validate:"gte=3"`
	// LogBacklog is the number of native log lines kept before new lines are dropped.
	LogBacklog int `json:"log_backlog" mapstructure:"log_backlog" validate:"gte=1"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" validate:"oneof=trace debug info warn error" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error"`
	Format string `json:"format" mapstructure:"format" validate:"oneof=json console" jsonschema:"enum=json,enum=console"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Class:  ClassConfig{Name: "go"},
		Native: DefaultNativeConfig(),
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

func DefaultNativeConfig() NativeConfig {
	return NativeConfig{
		RangePolicy:   RangeClamp,
		MaxObjectSize: DefaultMaxObjectSize,
		MaxHandles:    1024,
		LogBacklog:    4096,
	}
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Validate checks the native section on its own.
func (c NativeConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid native config: %w", err)
	}
	return nil
}

// ConfigSchema returns the JSON schema describing Config.
func ConfigSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&Config{})
	bz, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bz, nil
}
