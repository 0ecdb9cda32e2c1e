package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// newSessionsCmd creates the 'sessions' subcommand, which prints run history.
func newSessionsCmd(c *cli) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "Shows recent crawl sessions, or one session by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return discovery.NewConfigError("format", err)
			}
			if err := c.start(cmd, nil); err != nil {
				return err
			}
			var sessions []discovery.CrawlSession
			if len(args) == 1 {
				sess, err := c.app.Tracker.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				sessions = append(sessions, sess)
			} else {
				list, err := c.app.Tracker.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				sessions = list
			}
			if format == "json" {
				if sessions == nil {
					sessions = []discovery.CrawlSession{}
				}
				return writeJSON(c.out, sessions)
			}
			t := newTable(c.out)
			t.AppendHeader(table.Row{"Session", "Label", "State", "Started", "Completed", "Tested", "Exists", "Absent", "Errored", "Error"})
			for _, s := range sessions {
				completed := "-"
				if s.CompletedAt != nil {
					completed = fmtTime(*s.CompletedAt)
				}
				t.AppendRow(table.Row{s.ID, s.Label, string(s.State), fmtTime(s.StartedAt), completed,
					s.Tested, s.ConfirmedExist, s.ConfirmedAbsent, s.Errored, s.ErrorMessage})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to show")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format (table, json)")
	return cmd
}
