package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/marker"
	"github.com/kidoz/vmsmoke/internal/smoke"
)

var (
	smokeHost       string
	smokeInstanceID string
	smokeUser       string
	smokePort       int
	smokeMarkers    []string
	smokeOutput     string
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run a smoke test against a deployed VM",
	Long: `Run one health-check session against a VM:

  1. precheck     ping the VM, then run the shell probe over SSH
  2. action       reboot over SSH; on a retryable SSH fault, restart
                  through the platform (needs --instance-id)
  3. postcheck    ping and shell probe again
  4. diagnostics  fetch boot diagnostics from the platform

The command exits non-zero when either ping fails (or the reboot fails and
reboot.advisory is false). SSH probe, reboot and diagnostics failures are
printed as warnings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := GetLogger()
		cfg := GetConfig()

		if err := validateOutput(smokeOutput); err != nil {
			return err
		}
		params, err := marker.ParsePairs(smokeMarkers)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, err := initRunner(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize runner: %w", err)
		}
		defer func() { _ = r.Close() }()

		report, err := r.Run(ctx, smoke.Options{
			Host:       smokeHost,
			InstanceID: smokeInstanceID,
			User:       smokeUser,
			Port:       smokePort,
			Marker:     params,
		})
		if err != nil {
			return fmt.Errorf("smoke test could not run: %w", err)
		}

		if err := writeReport(cmd.OutOrStdout(), report, smokeOutput); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}

		if ctx.Err() != nil {
			return fmt.Errorf("smoke test for %s interrupted", report.Host)
		}

		if !report.OverallPassed {
			log.Error("Smoke test failed", zap.String("host", report.Host))
			return fmt.Errorf("smoke test failed for %s", report.Host)
		}
		return nil
	},
}

func init() {
	smokeCmd.Flags().StringVar(&smokeHost, "host", "", "VM address or hostname (required)")
	smokeCmd.Flags().StringVar(&smokeInstanceID, "instance-id", "", "cloud instance ID for platform restart and boot diagnostics")
	smokeCmd.Flags().StringVar(&smokeUser, "user", "", "SSH user (overrides transport.user)")
	smokeCmd.Flags().IntVar(&smokePort, "port", 0, "SSH port (overrides transport.port)")
	smokeCmd.Flags().StringArrayVar(&smokeMarkers, "marker", nil, "test marker parameter as key=value (repeatable)")
	smokeCmd.Flags().StringVarP(&smokeOutput, "output", "o", outputText, "report format: text, json or yaml")
	_ = smokeCmd.MarkFlagRequired("host")

	rootCmd.AddCommand(smokeCmd)
}
