package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ResearchDigest/internal/app"
	"ResearchDigest/internal/domain"
)

func newDailyCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Collect, score and deliver today's digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, _, err := flags.application(ctx, app.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.RunDaily(ctx)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprint(cmd.OutOrStdout(), result.Document.Body)
				return nil
			}
			printRecord(cmd, result.Record)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the document instead of archiving, delivering and persisting")
	return cmd
}

func newWeeklyCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Rank the past week's daily digests into a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, _, err := flags.application(ctx, app.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.RunWeekly(ctx)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprint(cmd.OutOrStdout(), result.Document.Body)
				return nil
			}
			printRecord(cmd, result.Record)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the document instead of archiving, delivering and recording")
	return cmd
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run daily and weekly digests on their cron schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, _, err := flags.application(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Serve(ctx)
		},
	}
}

func newPruneCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop dedup records older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, _, err := flags.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()

			removed, remaining, err := application.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d, remaining %d\n", removed, remaining)
			return nil
		},
	}
}

func printRecord(cmd *cobra.Command, rec domain.RunRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s run: %s\n", rec.Kind, rec.DocumentRef)
	for _, line := range []struct {
		label  string
		counts map[string]int
	}{
		{"collected", rec.Collected},
		{"after filter", rec.AfterFilter},
		{"after dedup", rec.AfterDedup},
	} {
		if len(line.counts) > 0 {
			fmt.Fprintf(out, "  %-12s %s\n", line.label, formatCounts(line.counts))
		}
	}
	channels := make([]string, 0, len(rec.Deliveries))
	for channel := range rec.Deliveries {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	for _, channel := range channels {
		fmt.Fprintf(out, "  delivered via %s: %t\n", channel, rec.Deliveries[channel])
	}
	for _, e := range rec.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
	if n := len(rec.Diagnostics); n > 0 {
		fmt.Fprintf(out, "  %d diagnostics (see log)\n", n)
	}
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
