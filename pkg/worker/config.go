package worker

import (
	"fmt"

	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/scheduler"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

type AgentConfig struct {
	// Unique name of the agent.
	Name string `mapstructure:"name"`

	// Dispatch webhook of the agent.
	Url string `mapstructure:"url"`

	// Builders the agent builds for. All builders if empty.
	Builders []string `mapstructure:"builders"`

	// Platform properties provided by the agent, key=value.
	Platform []string `mapstructure:"platform"`

	// Number of builds the agent runs at the same time.
	MaxBuilds int `mapstructure:"max_builds"`
}

func (c *AgentConfig) SetDefaults() {
	if c.MaxBuilds == 0 {
		c.MaxBuilds = 1
	}
}

// Checks if the agent configuration is valid.
func (c *AgentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: agent without name", utils.ErrBadRequest)
	}

	if _, err := utils.ParseEndpointUrl(c.Url); err != nil {
		return fmt.Errorf("agent %s: %w", c.Name, err)
	}

	if _, err := scheduler.ParsePlatform(c.Platform); err != nil {
		return fmt.Errorf("agent %s: %w", c.Name, err)
	}

	if c.MaxBuilds < 0 {
		return fmt.Errorf("%w: agent %s: max_builds must not be negative", utils.ErrBadRequest, c.Name)
	}

	return nil
}

func (c *AgentConfig) Log() {
	log.Infof("  agent %s: url: %s, builders: %v, platform: %v, max builds: %d",
		c.Name, c.Url, c.Builders, c.Platform, c.MaxBuilds)
}
