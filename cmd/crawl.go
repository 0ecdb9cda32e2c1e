package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/classifier"
	"github.com/JakeFAU/competition-discovery/internal/config"
	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/enumerator"
	"github.com/JakeFAU/competition-discovery/internal/probe"
	"github.com/JakeFAU/competition-discovery/internal/scheduler"
)

var crawlBindings = map[string]string{
	"run.districts":           "districts",
	"run.season_start":        "season-start",
	"run.season_end":          "season-end",
	"run.anchor_ids":          "anchor-ids",
	"run.max_attempts":        "max-attempts",
	"run.max_keys":            "max-keys",
	"run.retention_days":      "retention-days",
	"run.label":               "label",
	"run.sub_endpoints":       "sub-endpoints",
	"run.id_policy.kind":      "id-policy",
	"politeness.min_delay_ms": "min-delay-ms",
	"politeness.concurrency":  "concurrency",
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one discovery pass.
func newCrawlCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Probes candidate keys and records the outcomes",
		Long: `Enumerates candidate keys newest season first, skips keys the cache has
already resolved, and probes the rest within the politeness limits. The
credential is read from DISCOVERY_TARGET_CREDENTIAL or target.credential_file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.start(cmd, crawlBindings); err != nil {
				return err
			}
			return c.runCrawl(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringSlice("districts", nil, "district codes to enumerate")
	f.Int("season-start", 0, "first season year (inclusive)")
	f.Int("season-end", 0, "last season year (inclusive)")
	f.IntSlice("anchor-ids", nil, "known competition ids used by the id policy")
	f.Int("max-attempts", 0, "probe attempts per key before it is left unresolved")
	f.Int("max-keys", 0, "stop after emitting this many keys (0 = no limit)")
	f.Int("retention-days", 0, "evict absent/errored entries older than this before the run (0 = keep)")
	f.String("label", "", "free-form session label")
	f.StringSlice("sub-endpoints", nil, "sub-endpoints to probe per competition")
	f.String("id-policy", "", "id policy: list, range or expand")
	f.Int("min-delay-ms", 0, "minimum delay between requests on one lane")
	f.Int("concurrency", 0, "number of politeness lanes (1-8)")
	return cmd
}

func (c *cli) runCrawl(ctx context.Context) error {
	cfg := c.cfg
	if err := cfg.ValidateCrawl(); err != nil {
		return err
	}
	a := c.app
	logger := c.logger.Named("crawl")

	if retention := cfg.Retention(); retention > 0 {
		removed, err := a.Cache.EvictStale(ctx, a.Clock.Now().Add(-retention), discovery.DefaultEvictable())
		if err != nil {
			return err
		}
		logger.Info("retention sweep done", zap.Int64("removed", removed), zap.Duration("older_than", retention))
	}

	stream, err := enumerator.New(a.Cache, planFor(cfg), logger)
	if err != nil {
		return discovery.NewConfigError("run", err)
	}
	hub, err := a.Progress()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	deps := scheduler.Deps{
		Cache:      a.Cache,
		Prober:     newProbeClient(cfg),
		Classifier: newClassifier(cfg),
		Rules:      probe.Rules{MinBodyBytes: cfg.Target.MinBodyBytes, AuthMarkers: cfg.Target.AuthMarkers},
		Pacer: probe.NewPacer(probe.PacerConfig{
			Lanes:       cfg.Politeness.Concurrency,
			MinDelay:    ms(cfg.Politeness.MinDelayMs),
			Jitter:      ms(cfg.Politeness.JitterMs),
			MaxRPS:      cfg.Politeness.MaxRPS,
			BackoffBase: ms(cfg.Politeness.BackoffBaseMs),
			BackoffMax:  ms(cfg.Politeness.BackoffMaxMs),
			OnWait:      a.Metrics.ObservePacerWait,
		}),
		Tracker:  a.Tracker,
		Clock:    a.Clock,
		Progress: hub,
		Logger:   c.logger,
	}
	arch, err := a.Archiver(ctx)
	if err != nil {
		return err
	}
	if arch != nil {
		deps.OnConfirm = arch
	}

	sched, err := scheduler.New(scheduler.Config{
		Label:            cfg.Run.Label,
		Credential:       cfg.Target.Credential,
		ProbeTimeout:     cfg.InFlightTimeout(),
		MaxStorageErrors: cfg.Run.MaxStorageErrors,
		AbandonAfter:     cfg.AbandonAfter(),
		MaxAttempts:      cfg.Run.MaxAttempts,
	}, deps)
	if err != nil {
		return err
	}
	res, err := sched.Run(ctx, stream)
	if err != nil {
		return discovery.NewStorageError("session", err)
	}
	c.printRun(res)
	if res.State != discovery.SessionCompleted {
		return &runError{state: res.State, err: res.Err}
	}
	return nil
}

func planFor(cfg config.Config) enumerator.Plan {
	return enumerator.Plan{
		Districts:    cfg.Run.Districts,
		SeasonStart:  cfg.Run.SeasonStart,
		SeasonEnd:    cfg.Run.SeasonEnd,
		SubEndpoints: cfg.Run.SubEndpoints,
		PolicyFor: func(district string, season int) enumerator.Policy {
			p := cfg.Run.PolicyFor(district, season)
			return enumerator.Policy{
				Kind:    p.Kind,
				Anchors: p.Anchors,
				Radius:  p.Radius,
				RangeLo: p.RangeLo,
				RangeHi: p.RangeHi,
				Window:  p.Window,
			}
		},
		MaxAttempts: cfg.Run.MaxAttempts,
		MaxKeys:     cfg.Run.MaxKeys,
	}
}

func newProbeClient(cfg config.Config) *probe.Client {
	return probe.New(probe.Config{
		BaseURL:          cfg.Target.BaseURL,
		Paths:            cfg.Target.Paths,
		UserAgent:        cfg.Target.UserAgent,
		CredentialHeader: cfg.Target.CredentialHeader,
		Timeout:          cfg.ProbeTimeout(),
		MaxBodyBytes:     cfg.Target.MaxBodyBytes,
		IgnoreRobots:     cfg.Target.IgnoreRobots,
		FollowRedirects:  cfg.Target.FollowRedirects,
	})
}

func newClassifier(cfg config.Config) *classifier.Heuristic {
	cl := cfg.Classifier
	return classifier.NewHeuristic(classifier.Signals{
		NegativeMarkers:  cl.NegativeMarkers,
		ErrorMarkers:     cl.ErrorMarkers,
		PositiveMarkers:  cl.PositiveMarkers,
		ColumnKeywords:   cl.ColumnKeywords,
		MinColumnMatches: cl.MinColumnMatches,
		MinRows:          cl.MinRows,
		DisplaySelectors: cl.DisplaySelectors,
		DistrictSelector: cl.DistrictSelector,
	})
}

func (c *cli) printRun(res scheduler.Result) {
	s := res.Session
	t := newTable(c.out)
	t.AppendHeader(table.Row{"Session", "State", "Tested", "Exists", "Absent", "Errored", "Skipped", "Retried"})
	t.AppendRow(table.Row{s.ID, string(res.State), s.Tested, s.ConfirmedExist, s.ConfirmedAbsent, s.Errored, res.Skipped, res.Retried})
	t.Render()
	if res.Err != nil {
		fmt.Fprintf(c.out, "error: %v\n", res.Err)
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
