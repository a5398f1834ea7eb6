package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parcade/dockhand/internal/shell/store"
)

// newHistoryCmd lists recent deployment journal entries.
func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.journal.List(cmd.Context(), limit)
			if err != nil {
				return &exitError{code: ExitJournalError, err: err}
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No deployments recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tREPO\tBRANCH\tHOST\tPORTS\tSTATUS")
			for _, rec := range records {
				status := string(rec.Status)
				if rec.Status == store.StatusFailed && rec.FailedStage != "" {
					status = fmt.Sprintf("failed (%s)", rec.FailedStage)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d:%d\t%s\n",
					rec.CreatedAt.Local().Format("2006-01-02 15:04"),
					rec.RepoName,
					rec.Branch,
					rec.Host,
					rec.ExternalPort, rec.InternalPort,
					status,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries to show")
	return cmd
}
