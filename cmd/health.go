package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/permit-cli/internal/health"
)

var healthHistory int

var healthCmd = &cobra.Command{
	Use:   "health [source]",
	Short: "Show source health",
	Long:  "Prints the health verdict for every configured source, or for one source together with its recent log entries.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initHealthOnly(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ids := configuredSourceIDs()
		if len(args) == 1 {
			ids = []string{args[0]}
		}
		if err := printHealth(ctx, os.Stdout, env.Tracker, ids); err != nil {
			return err
		}

		if len(args) == 1 && healthHistory > 0 {
			recs, err := env.Tracker.History(ctx, args[0], healthHistory)
			if err != nil {
				return err
			}
			printHistory(os.Stdout, recs)
		}
		return nil
	},
}

// configuredSourceIDs returns the ids of enabled sources in config order.
func configuredSourceIDs() []string {
	var ids []string
	for _, d := range cfg.Sources {
		if !d.Disabled {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func printHealth(ctx context.Context, w io.Writer, t *health.Tracker, ids []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tHEALTHY\tDETAIL")
	for _, id := range ids {
		st, err := t.CheckHealth(ctx, id)
		if err != nil {
			return err
		}
		verdict := "yes"
		if !st.Healthy {
			verdict = "NO"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, verdict, st.Detail)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, recs []health.Record) {
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tOUTCOME\tRECORDS\tDETAIL")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.At.Format(time.RFC3339), r.Outcome, r.Count, r.Detail)
	}
	_ = tw.Flush()
}

func init() {
	healthCmd.Flags().IntVar(&healthHistory, "history", 10, "log entries to show for a single source")
	rootCmd.AddCommand(healthCmd)
}
