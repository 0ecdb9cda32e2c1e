package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// newEvictCmd creates the 'evict' subcommand, which removes stale entries.
func newEvictCmd(c *cli) *cobra.Command {
	var (
		days     int
		statuses []string
	)
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Deletes stale absent/errored entries so they are probed again",
		Long: `Deletes cache rows in the given statuses whose last check is older than
--older-than-days. Confirmed-existing entries are never evicted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return discovery.NewConfigError("older-than-days", fmt.Errorf("must be positive, got %d", days))
			}
			parsed := make([]discovery.Status, 0, len(statuses))
			for _, raw := range statuses {
				s, err := discovery.ParseStatus(strings.TrimSpace(raw))
				if err != nil {
					return discovery.NewConfigError("statuses", err)
				}
				parsed = append(parsed, s)
			}
			if err := discovery.CheckEvictable(parsed); err != nil {
				return err
			}
			if err := c.start(cmd, nil); err != nil {
				return err
			}
			cutoff := c.app.Clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
			removed, err := c.app.Cache.EvictStale(cmd.Context(), cutoff, parsed)
			if err != nil {
				return err
			}
			c.logger.Info("evicted stale entries",
				zap.Int64("removed", removed),
				zap.Time("older_than", cutoff),
				zap.Strings("statuses", discovery.StatusStrings(parsed)),
			)
			fmt.Fprintf(c.out, "evicted %d entries checked before %s\n", removed, fmtTime(cutoff))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 30, "evict entries last checked more than this many days ago")
	cmd.Flags().StringSliceVar(&statuses, "statuses", discovery.StatusStrings(discovery.DefaultEvictable()), "statuses to evict")
	return cmd
}
