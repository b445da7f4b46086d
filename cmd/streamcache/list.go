package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached resources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tRECEIVED\tLENGTH\tCOMPLETE\tLAST ACCESS")
		for _, rec := range records {
			length := "?"
			if rec.ExpectedLength >= 0 {
				length = fmt.Sprint(rec.ExpectedLength)
			}
			accessed := "-"
			if rec.LastAccessedAt != nil {
				accessed = rec.LastAccessedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\n", rec.Key, rec.ReceivedLength, length, rec.Completed, accessed)
		}
		return w.Flush()
	},
}
