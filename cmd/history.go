package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kidoz/vmsmoke/internal/history"
)

var (
	historyHost   string
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored smoke runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(historyOutput); err != nil {
			return err
		}
		store, err := openHistory(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entries, err := store.List(cmd.Context(), historyHost, historyLimit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if historyOutput != outputText {
			if entries == nil {
				entries = []history.Entry{}
			}
			return encode(w, entries, historyOutput)
		}

		if len(entries) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tHOST\tINSTANCE\tVERDICT\tWARNINGS\tFINISHED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, e.Host, e.InstanceID, e.Verdict, e.Warnings, e.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one stored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(historyOutput); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run ID %q", args[0])
		}

		store, err := openHistory(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entry, err := store.Get(cmd.Context(), id)
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("run %d not found", id)
		}
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), entry.Report, historyOutput)
	},
}

var historyLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the newest stored report of a host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(historyOutput); err != nil {
			return err
		}
		if historyHost == "" {
			return fmt.Errorf("--host is required")
		}

		store, err := openHistory(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entry, err := store.Latest(cmd.Context(), historyHost)
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no runs recorded for %s", historyHost)
		}
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), entry.Report, historyOutput)
	},
}

func openHistory(ctx context.Context) (*history.Store, error) {
	cfg := GetConfig()
	if cfg.History.Path == "" {
		return nil, fmt.Errorf("history is disabled (set history.path)")
	}
	return history.Open(ctx, cfg.History.Path)
}

func init() {
	historyCmd.PersistentFlags().StringVarP(&historyOutput, "output", "o", outputText, "output format: text, json or yaml")
	historyCmd.PersistentFlags().StringVar(&historyHost, "host", "", "only show runs for this host")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs (0 for all)")

	historyCmd.AddCommand(historyShowCmd, historyLatestCmd)
	rootCmd.AddCommand(historyCmd)
}
