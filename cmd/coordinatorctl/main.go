package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

type ControlConfig struct {
	// Base URL of the coordinator HTTP API.
	CoordinatorUri string `mapstructure:"coordinator_uri"`
}

func ParseConfig() (*ControlConfig, error) {
	config := &ControlConfig{}
	if err := utils.UnmarshalConfig(viper.GetViper(), config); err != nil {
		return nil, err
	}
	if _, err := utils.ParseEndpointUrl(config.CoordinatorUri); err != nil {
		return nil, fmt.Errorf("coordinator_uri: %w", err)
	}
	return config, nil
}

var rootCmd = &cobra.Command{
	Use:   "coordinatorctl",
	Short: "Coordinator control command",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetConfigName("coordinatorctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/jolt/")
		viper.AddConfigPath("$HOME/.config/jolt")
		viper.AddConfigPath(".")
		viper.ReadInConfig()

		viper.SetEnvPrefix("jolt")
		viper.AutomaticEnv()

		config, err := ParseConfig()
		if err != nil {
			log.Fatal(err)
		}
		configData = *config
	},
}

var configData = ControlConfig{}

func main() {
	rootCmd.PersistentFlags().StringP("coordinator-uri", "s", "http://localhost:8080", "Coordinator service URI")
	viper.BindPFlag("coordinator_uri", rootCmd.PersistentFlags().Lookup("coordinator-uri"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
