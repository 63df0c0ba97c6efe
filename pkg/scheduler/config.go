package scheduler

import (
	"fmt"
	"time"

	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

const (
	DefaultHeartbeatInterval   = 10 * time.Second
	DefaultStaleAfter          = 60 * time.Second
	DefaultRequestCacheSize    = 1000
	DefaultMaxDispatchAttempts = 3
)

type BuilderConfig struct {
	// Name of the builder, as found in build requests.
	Name string `mapstructure:"name"`
	// Chooser strategy: basic or priority_resume.
	Chooser string `mapstructure:"chooser"`
	// Merge compatible requests into one build.
	Merge bool `mapstructure:"merge"`
	// Properties agents must provide, key=value.
	Platform []string `mapstructure:"platform"`
	// Failed dispatches of a request before giving up.
	MaxDispatchAttempts int `mapstructure:"max_dispatch_attempts"`
}

type Config struct {
	// Name of this coordinator. Must be unique among coordinators sharing a database.
	Name string `mapstructure:"name"`
	// Interval between heartbeats and periodic rescheduling.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// Coordinators silent for longer than this lose their claims.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// Number of resolved requests kept in memory.
	RequestCacheSize int `mapstructure:"request_cache_size"`
	// Builders scheduled by this coordinator.
	Builders []BuilderConfig `mapstructure:"builders"`
}

func (c *Config) SetDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.RequestCacheSize == 0 {
		c.RequestCacheSize = DefaultRequestCacheSize
	}
	for i := range c.Builders {
		if c.Builders[i].Chooser == "" {
			c.Builders[i].Chooser = string(ChooserBasic)
		}
		if c.Builders[i].MaxDispatchAttempts == 0 {
			c.Builders[i].MaxDispatchAttempts = DefaultMaxDispatchAttempts
		}
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", utils.ErrBadRequest)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", utils.ErrBadRequest)
	}
	if c.StaleAfter <= c.HeartbeatInterval {
		return fmt.Errorf("%w: stale_after must be longer than heartbeat_interval", utils.ErrBadRequest)
	}
	if c.RequestCacheSize < 0 {
		return fmt.Errorf("%w: request_cache_size must not be negative", utils.ErrBadRequest)
	}

	names := map[string]bool{}
	for _, builder := range c.Builders {
		if builder.Name == "" {
			return fmt.Errorf("%w: builder without name", utils.ErrBadRequest)
		}
		if names[builder.Name] {
			return fmt.Errorf("%w: duplicate builder %s", utils.ErrBadRequest, builder.Name)
		}
		names[builder.Name] = true

		if _, err := ParseChooserStrategy(builder.Chooser); err != nil {
			return fmt.Errorf("builder %s: %w", builder.Name, err)
		}
		if _, err := ParsePlatform(builder.Platform); err != nil {
			return fmt.Errorf("builder %s: %w", builder.Name, err)
		}
		if builder.MaxDispatchAttempts < 0 {
			return fmt.Errorf("%w: builder %s: max_dispatch_attempts must not be negative", utils.ErrBadRequest, builder.Name)
		}
	}
	return nil
}

func (c *Config) Log() {
	log.Info("Coordinator configuration:")
	log.Infof("  name: %s", c.Name)
	log.Infof("  heartbeat interval: %v", c.HeartbeatInterval)
	log.Infof("  stale after: %v", c.StaleAfter)
	log.Infof("  request cache size: %d", c.RequestCacheSize)
	for _, builder := range c.Builders {
		log.Infof("  builder %s: chooser: %s, merge: %v, platform: %v, max dispatch attempts: %d",
			builder.Name, builder.Chooser, builder.Merge, builder.Platform, builder.MaxDispatchAttempts)
	}
}
