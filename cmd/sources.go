package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/permit-cli/internal/model"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sources"); err != nil {
			return err
		}
		printSources(os.Stdout, cfg.Sources)
		return nil
	},
}

func printSources(w io.Writer, descs []model.SourceDescriptor) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tJURISDICTION\tSTRATEGY\tENDPOINT\tSTATE")
	for _, d := range descs {
		state := "enabled"
		if d.Disabled {
			state = "disabled"
		}
		strategy := string(d.Strategy)
		if d.Dialect != "" {
			strategy += "/" + d.Dialect
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.DisplayName(), d.Jurisdiction, strategy, d.Endpoint, state)
	}
	_ = tw.Flush()
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
