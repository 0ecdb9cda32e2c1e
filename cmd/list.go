package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/query"
)

type listOptions struct {
	filter query.Filter
	format string
}

// newListCmd creates the 'list' subcommand, which prints confirmed entries.
func newListCmd(c *cli) *cobra.Command {
	var opts listOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists competitions confirmed to exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(opts.format); err != nil {
				return discovery.NewConfigError("format", err)
			}
			if err := c.start(cmd, nil); err != nil {
				return err
			}
			svc, err := query.New(c.app.Cache)
			if err != nil {
				return err
			}
			entries, err := svc.ListExisting(cmd.Context(), opts.filter)
			if err != nil {
				return err
			}
			if opts.format == "json" {
				if entries == nil {
					entries = []discovery.CacheEntry{}
				}
				return writeJSON(c.out, entries)
			}
			t := newTable(c.out)
			t.AppendHeader(table.Row{"Key", "Status", "Matches", "Name", "District", "Last checked", "Attempts"})
			for _, e := range entries {
				t.AppendRow(table.Row{e.Key.String(), string(e.Status), e.MatchCount, e.DisplayName, e.DistrictName, fmtTime(e.LastChecked), e.AttemptCount})
			}
			t.AppendFooter(table.Row{"", "", "", "", "", "total", len(entries)})
			t.Render()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.filter.District, "district", "", "only this district")
	f.IntVar(&opts.filter.SeasonFrom, "season-from", 0, "earliest season (inclusive)")
	f.IntVar(&opts.filter.SeasonTo, "season-to", 0, "latest season (inclusive)")
	f.IntVar(&opts.filter.MinMatchCount, "min-matches", 0, "minimum match count")
	f.BoolVar(&opts.filter.IncludeAbsent, "include-absent", false, "also list confirmed-absent keys")
	f.IntVar(&opts.filter.Limit, "limit", 0, "maximum rows (0 = no limit)")
	f.StringVarP(&opts.format, "output", "o", "table", "output format (table, json)")
	return cmd
}
