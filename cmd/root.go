// Package cmd wires the CLI surface: the long-running reply engine plus the
// operator commands for stats and history maintenance.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/config"
	"github.com/shopclerk/shopclerk/internal/observability"
)

var (
	cfgFile      string
	loadedConfig *config.Config
)

// NewRootCommand builds a fresh command tree. A new instance per invocation
// keeps flag state from leaking between runs in tests.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "shopclerk",
		Short:   "Shopclerk answers buyer messages on the seller chat console.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initializeConfig()
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "shopclerk",
				})
				return err
			}
			loadedConfig = cfg

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting shopclerk.", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newPurgeCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the CLI against the given context.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command failed.", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig layers defaults, the optional config file, a .env file
// and SHOPCLERK_* environment variables, then validates the result.
func initializeConfig() (*config.Config, error) {
	// A local .env is convenient for the API key; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.shopclerk")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SHOPCLERK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}

	return config.NewFromViper(v)
}
