// ABOUTME: Collector configuration with defaults, validation, and YAML loading
// ABOUTME: Covers heap sizing, stats recording, tripwire, and handle sanitization

package heap

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid heap config")

// TripwireContext is handed to the tripwire callback when heap usage crosses
// the configured limit.
type TripwireContext interface {
	// GCName identifies the heap that tripped.
	GCName() string
	// UsedBytes is the live data size that crossed the limit.
	UsedBytes() uint64
}

// Config configures a collector instance.
type Config struct {
	// Name identifies this heap in logs and stats.
	Name string `yaml:"name"`

	// InitHeapSize is the heap's starting capacity in bytes. The heap grows
	// from here toward MaxHeapSize as collections fail to free enough space.
	InitHeapSize uint64 `yaml:"init_heap"`
	// MaxHeapSize is the hard capacity limit in bytes.
	MaxHeapSize uint64 `yaml:"max_heap"`

	// RecordStats enables cumulative GC statistics collection.
	RecordStats bool `yaml:"record_stats"`

	// RecoverableOOM converts heap exhaustion into ErrOutOfMemory returned
	// from Alloc instead of terminating the process.
	RecoverableOOM bool `yaml:"recoverable_oom"`

	// SanitizeRate is the probability, per allocation, of forcing a full
	// collection first. Moving everything before each allocation shakes out
	// raw addresses illegally retained across allocating calls. 0 disables.
	SanitizeRate float64 `yaml:"sanitize_rate"`
	// SanitizeSeed seeds the sanitizer coin flips; 0 means time-based.
	SanitizeSeed int64 `yaml:"sanitize_seed"`

	// TripwireLimit is the live-data size in bytes that triggers the
	// tripwire callback. 0 disables the tripwire.
	TripwireLimit uint64 `yaml:"tripwire_limit"`
	// TripwireCooldown is how long after triggering before the tripwire can
	// trigger again.
	TripwireCooldown time.Duration `yaml:"tripwire_cooldown"`
	// TripwireCallback is invoked at most once per cooldown period.
	TripwireCallback func(ctx TripwireContext) `yaml:"-"`

	// Logger receives collector diagnostics. Defaults to the standard logger.
	Logger *log.Logger `yaml:"-"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Name:             "heap",
		InitHeapSize:     1 << 20,  // 1 MiB
		MaxHeapSize:      512 << 20, // 512 MiB
		TripwireCooldown: time.Hour,
	}
}

// LoadConfig reads a YAML configuration, applying it over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("reading heap config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.InitHeapSize == 0 {
		return fmt.Errorf("%w: init_heap must be positive", ErrInvalidConfig)
	}
	if c.MaxHeapSize < c.InitHeapSize {
		return fmt.Errorf("%w: max_heap (%d) below init_heap (%d)",
			ErrInvalidConfig, c.MaxHeapSize, c.InitHeapSize)
	}
	if c.SanitizeRate < 0 || c.SanitizeRate > 1 {
		return fmt.Errorf("%w: sanitize_rate %v outside [0, 1]",
			ErrInvalidConfig, c.SanitizeRate)
	}
	if c.TripwireLimit > 0 && c.TripwireCallback == nil {
		return fmt.Errorf("%w: tripwire_limit set without a callback", ErrInvalidConfig)
	}
	return nil
}
