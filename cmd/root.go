package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/logging"
	"github.com/kidoz/vmsmoke/internal/telemetry"
)

var (
	cfgFile      string
	verbose      bool
	cfg          *config.Config
	log          *zap.Logger
	otelShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "vmsmoke",
	Short: "VM deployment smoke tests with fallback escalation",
	Long: `vmsmoke checks that a freshly deployed VM is alive and survives a reboot.

It pings the VM, probes it over SSH, reboots it over SSH (falling back to
the cloud platform API when SSH is unusable), checks it again and fetches
boot diagnostics. Only reachability decides the verdict; SSH probes,
the reboot and diagnostics are reported as warnings.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that handle their own config
		if cmd.Name() == "version" || cmd.Name() == "migrate-config" {
			return nil
		}

		if err := loadDotEnv(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		// Load configuration
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Initialize logger
		log, err = logging.New(cfg.Log, verbose)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}

		// Initialize OpenTelemetry
		otelShutdown, err = telemetry.Init(context.Background(), &cfg.Telemetry, telemetry.Options{
			ServiceVersion: Version,
			Verbose:        verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to init telemetry: %w", err)
		}

		log.Debug("Configuration loaded", zap.String("path", cfgFile), zap.String("version", Version))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if log != nil {
			_ = log.Sync()
		}
		if otelShutdown != nil {
			return otelShutdown(context.Background())
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.FindConfigPath(), "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *zap.Logger {
	return log
}

// loadDotEnv loads VMSMOKE_* overrides from .env in the working directory.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
