package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/procurescan/scraper-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored tender counts and the most recent records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source := cfg.Scrape.Source
		count, err := st.CountTenders(ctx, source)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		fmt.Printf("source %s: %d tenders stored\n", source, count)

		limit, _ := cmd.Flags().GetInt("limit")
		recent, err := st.RecentTenders(ctx, source, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(recent) > 0 {
			fmt.Println()
			formatTendersList(os.Stdout, recent)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 10, "number of recent tenders to display")
	rootCmd.AddCommand(statusCmd)
}

func formatTendersList(out io.Writer, tenders []model.Tender) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TENDER_ID\tTYPE\tPUBLISHED\tCLOSING\tORGANIZATION\tTITLE")
	for _, t := range tenders {
		closing := t.ClosingDate
		if closing == "" {
			closing = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TenderID, t.Type, t.PublishDate, closing,
			truncate(t.Organization, 32), truncate(t.Title, 48))
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
