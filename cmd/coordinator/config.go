package main

import (
	"fmt"
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/scheduler"
	"github.com/srand/jolt/coordinator/pkg/utils"
	"github.com/srand/jolt/coordinator/pkg/worker"
)

const defaultSqliteDsn = "coordinator.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

type DatabaseConfig struct {
	// Database driver: sqlite or postgres.
	Driver string `mapstructure:"driver"`
	// Driver specific data source name.
	Dsn string `mapstructure:"dsn"`
}

type DashboardConfig struct {
	Uri string `mapstructure:"uri"`
}

func (c *DashboardConfig) GetDashboardUri() string {
	return c.Uri
}

type Config struct {
	scheduler.Config `mapstructure:",squash"`

	Grpc utils.GRPCOptions `mapstructure:"grpc"`

	// Shared database.
	Database DatabaseConfig `mapstructure:"database"`
	// Addresses to listen on for gRPC health checks.
	ListenGrpc []string `mapstructure:"listen_grpc"`
	// Addresses to listen on for HTTP.
	ListenHttp []string `mapstructure:"listen_http"`
	// Execution agents.
	Agents []worker.AgentConfig `mapstructure:"agents"`
	// Time allowed for an agent to accept a build.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// Dashboard configuration.
	Dashboard *DashboardConfig `mapstructure:"dashboard"`
	// Trace exporter: empty or stdout.
	Tracing string `mapstructure:"tracing"`
	// Log level.
	LogLevel string `mapstructure:"log_level"`
}

// Hostname followed by a machine specific id.
func defaultName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "coordinator"
	}
	if id, err := machineid.ProtectedID("jolt-coordinator"); err == nil && len(id) >= 8 {
		name = fmt.Sprintf("%s-%s", name, id[:8])
	}
	return name
}

func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = defaultName()
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Dsn == "" && c.Database.Driver == "sqlite" {
		c.Database.Dsn = defaultSqliteDsn
	}
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = worker.DefaultDispatchTimeout
	}
	for i := range c.Agents {
		c.Agents[i].SetDefaults()
	}
	c.Config.SetDefaults()
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported database driver: %s", utils.ErrBadRequest, c.Database.Driver)
	}

	if c.Database.Dsn == "" {
		return fmt.Errorf("%w: database.dsn is required", utils.ErrBadRequest)
	}

	if err := c.Config.Validate(); err != nil {
		return err
	}

	if err := c.Grpc.Validate(); err != nil {
		return err
	}

	for _, uri := range c.ListenHttp {
		if _, err := utils.ParseHttpUrl(uri); err != nil {
			return fmt.Errorf("listen_http: %w", err)
		}
	}

	for _, uri := range c.ListenGrpc {
		if _, err := utils.ParseGrpcUrl(uri); err != nil {
			return fmt.Errorf("listen_grpc: %w", err)
		}
	}

	for i := range c.Agents {
		if err := c.Agents[i].Validate(); err != nil {
			return err
		}
	}

	if c.Dashboard != nil {
		if _, err := utils.ParseEndpointUrl(c.Dashboard.Uri); err != nil {
			return fmt.Errorf("dashboard.uri: %w", err)
		}
	}

	switch c.Tracing {
	case "", "stdout":
	default:
		return fmt.Errorf("%w: unsupported tracing exporter: %s", utils.ErrBadRequest, c.Tracing)
	}

	if c.LogLevel != "" && !log.ValidLogLevel(log.LogLevel(c.LogLevel)) {
		return fmt.Errorf("%w: invalid log_level: %s", utils.ErrBadRequest, c.LogLevel)
	}

	if c.DispatchTimeout < 0 {
		return fmt.Errorf("%w: dispatch_timeout must not be negative", utils.ErrBadRequest)
	}

	return nil
}

func (c *Config) Log() {
	c.Config.Log()
	log.Infof("  database driver: %s", c.Database.Driver)
	log.Infof("  gRPC listen addresses: %v", c.ListenGrpc)
	log.Infof("  HTTP listen addresses: %v", c.ListenHttp)
	log.Infof("  dispatch timeout: %v", c.DispatchTimeout)
	for i := range c.Agents {
		c.Agents[i].Log()
	}
	if c.Dashboard != nil {
		log.Infof("  dashboard: %s", c.Dashboard.Uri)
	}
	if c.Tracing != "" {
		log.Infof("  tracing: %s", c.Tracing)
	}
	c.Grpc.Log()
}
