package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/permitsync"
)

var (
	runSources []string
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one acquisition cycle now",
	Long:  "Fetches every configured source (or only those named with --source), persists today's snapshots and prints the cycle summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCycle(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Engine.RunCycle(ctx, permitsync.RunOpts{Sources: runSources})
		if err != nil {
			return err
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		printSummary(os.Stdout, summary)
		return nil
	},
}

// printSummary writes one line per source followed by outcome totals.
func printSummary(w io.Writer, s *model.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tOUTCOME\tPATH\tRECORDS\tREJECTED\tATTEMPTS\tELAPSED")
	for _, r := range s.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.Source, r.Outcome, r.Path(), r.Records, r.Rejected, r.Attempts, r.Elapsed.Round(time.Millisecond))
	}
	_ = tw.Flush()

	counts := s.Counts()
	fmt.Fprintf(w, "\ncycle %s: %d success, %d fallback-historical, %d fallback-synthetic, %d failed in %s\n",
		s.CycleID,
		counts[model.OutcomeSuccess],
		counts[model.OutcomeFallbackHistorical],
		counts[model.OutcomeFallbackSynthetic],
		counts[model.OutcomeFailed],
		s.Elapsed.Round(time.Millisecond),
	)
}

func init() {
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "source id to run (repeatable; default all)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the summary as JSON")
	rootCmd.AddCommand(runCmd)
}
