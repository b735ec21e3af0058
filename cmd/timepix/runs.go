package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/timepix.report/internal/timepix/runstore"
)

func newRunsCommand(a *app) *cobra.Command {
	var filter runstore.Filter
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in the catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.dbPath == "" {
				return errors.New("--db is required")
			}
			store, err := runstore.Open(a.dbPath, a.clock)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTOOL\tSTATUS\tSTARTED\tDURATION\tHITS\tEVENTS\tINPUT")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID[:8], r.Tool, r.Status,
					r.StartedAt.Format(time.RFC3339),
					r.Duration().Round(time.Millisecond),
					humanize.Comma(int64(r.HitsRead)),
					humanize.Comma(int64(r.Events)),
					r.InputDir)
				if r.Error != "" {
					fmt.Fprintf(tw, "\terror: %s\n", r.Error)
				}
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.Tool, "tool", "", "only runs of this tool")
	f.StringVar(&filter.Status, "status", "", "only runs with this status")
	f.StringVar(&filter.InputDir, "input", "", "only runs over this directory")
	f.IntVar(&filter.Limit, "limit", 20, "most recent runs to list, 0 for all")
	return cmd
}
