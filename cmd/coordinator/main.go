package main

import (
	"context"
	"fmt"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/jolt/coordinator/pkg/dashboard"
	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/scheduler"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/srand/jolt/coordinator/pkg/utils"
	"github.com/srand/jolt/coordinator/pkg/worker"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var config *Config

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Jolt build request coordinator",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("jolt")
		viper.AutomaticEnv()

		if file, _ := cmd.Flags().GetString("config"); file != "" {
			viper.SetConfigFile(file)
		} else {
			viper.SetConfigName("coordinator")
			viper.AddConfigPath("/etc/jolt/")
			viper.AddConfigPath("$HOME/.config/jolt")
			viper.AddConfigPath(".")
		}
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				log.Fatal(err)
			}
		}

		config = &Config{}
		if err := utils.UnmarshalConfig(viper.GetViper(), config); err != nil {
			log.Fatal(err)
		}

		if config.LogLevel != "" {
			if err := log.SetLevel(log.LogLevel(config.LogLevel)); err != nil {
				log.Fatal(err)
			}
		}

		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			panic(err)
		}

		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}

		config.SetDefaults()
		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}
		config.Log()
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := setupTracing(config.Tracing, config.Name)
		if err != nil {
			log.Fatal(err)
		}
		defer shutdownTracing(context.Background())

		db, err := store.Open(ctx, config.Database.Driver, config.Database.Dsn)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()

		pool, err := worker.NewPool(config.Agents)
		if err != nil {
			log.Fatal(err)
		}

		events := scheduler.NewEvents()

		// Create dashboard telemetry provider if configured
		if config.Dashboard != nil {
			hooks := dashboard.NewDashboardTelemetryHook(config.Dashboard)
			defer hooks.Close()
			events.AddObserver(hooks)
		}

		healthServer := health.NewServer()
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		coordinator, err := scheduler.NewCoordinator(&config.Config, scheduler.Services{
			Storage:    db,
			Pool:       pool,
			Dispatcher: worker.NewDispatcher(pool, config.Name, config.DispatchTimeout),
			Events:     events,
			OnStatusChange: func(serving bool) {
				if serving {
					healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
				} else {
					healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
				}
			},
		})
		if err != nil {
			log.Fatal(err)
		}

		g, gctx := errgroup.WithContext(ctx)

		for _, uri := range config.ListenHttp {
			uri := uri
			g.Go(func() error {
				return serveHttp(gctx, coordinator, uri)
			})
		}

		for _, uri := range config.ListenGrpc {
			uri := uri
			g.Go(func() error {
				return serveGrpc(gctx, healthServer, uri)
			})
		}

		// Ready to run the coordinator
		g.Go(func() error {
			return coordinator.Run(gctx)
		})

		if err := g.Wait(); err != nil {
			log.Error(err)
		}
	},
}

func init() {
	rootCmd.Flags().StringP("config", "c", "", "Configuration file")
	rootCmd.Flags().StringSliceP("listen-http", "l", []string{"tcp://:8080"}, "Addresses to listen on for HTTP connections")
	rootCmd.Flags().StringSliceP("listen-grpc", "g", []string{"tcp://:9090"}, "Addresses to listen on for GRPC connections")
	rootCmd.Flags().StringP("name", "n", "", "Name of this coordinator, unique among coordinators sharing a database")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("listen_grpc", rootCmd.Flags().Lookup("listen-grpc"))
	viper.BindPFlag("listen_http", rootCmd.Flags().Lookup("listen-http"))
	viper.BindPFlag("name", rootCmd.Flags().Lookup("name"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
