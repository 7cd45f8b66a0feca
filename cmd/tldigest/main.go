package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elonfeng/timeline-digest/pkg/digest"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tldigest",
		Short:         "Harvest a social timeline and build topic-filtered day digests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(lastCmd())
	root.AddCommand(daysCmd())
	root.AddCommand(showCmd())
	root.AddCommand(serveCmd())

	return root
}

func runCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run today's digest once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaily(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build the digest without delivering it")
	return cmd
}

func backfillCmd() *cobra.Command {
	var (
		days   int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Build digests for the last N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), days, dryRun)
		},
	}

	cmd.Flags().IntVar(&days, "days", digest.MaxDays, fmt.Sprintf("number of days, at most %d", digest.MaxDays))
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build the digests without delivering them")
	return cmd
}

func lastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the last run result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLast(cmd.Context())
		},
	}
}

func daysCmd() *cobra.Command {
	var (
		limit      int
		unfiltered bool
	)

	cmd := &cobra.Command{
		Use:   "days",
		Short: "List days with stored digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDays(cmd.Context(), limit, unfiltered)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 30, "max days to list")
	cmd.Flags().BoolVar(&unfiltered, "unfiltered", false, "list days with stored raw items")
	return cmd
}

func showCmd() *cobra.Command {
	var (
		jsonOutput bool
		unfiltered bool
	)

	cmd := &cobra.Command{
		Use:   "show <day>",
		Short: "Show the digest for a day (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), args[0], jsonOutput, unfiltered)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&unfiltered, "unfiltered", false, "show every captured item of the day")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		port    int
		noSched bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the daily scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, !noSched)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	cmd.Flags().BoolVar(&noSched, "no-schedule", false, "disable the scheduler")
	return cmd
}
