// Package cmd defines and implements the CLI commands for the discover executable.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/app"
	"github.com/JakeFAU/competition-discovery/internal/config"
	"github.com/JakeFAU/competition-discovery/internal/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer

	cfg    config.Config
	logger *zap.Logger
	app    *app.App

	// newApp is the service factory; tests replace it.
	newApp func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{v: viper.New(), out: os.Stdout, newApp: app.New}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discovers which competition keys of the target site hold data.",
		Long: `discover enumerates candidate (district, season, competition, view) keys,
probes each one politely and records the outcome in a durable discovery cache
that downstream extraction jobs read.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "log format (auto, console, json)")
	cmd.PersistentFlags().String("storage", "", "storage driver (postgres, sqlite, memory)")

	cmd.AddCommand(
		newCrawlCmd(c),
		newEvictCmd(c),
		newListCmd(c),
		newSessionsCmd(c),
		newServeCmd(c),
		newMigrateCmd(c),
	)
	return cmd, c
}

var globalBindings = map[string]string{
	"logging.level":  "log-level",
	"logging.format": "log-format",
	"storage.driver": "storage",
}

// start binds the command's flags, loads configuration and builds services.
func (c *cli) start(cmd *cobra.Command, bindings map[string]string) error {
	if err := bindFlags(c.v, cmd.Flags(), globalBindings); err != nil {
		return err
	}
	if err := bindFlags(c.v, cmd.Flags(), bindings); err != nil {
		return err
	}
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	c.cfg, c.logger = cfg, logger

	a, err := c.newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	c.app = a
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// close shuts down services and flushes the logger.
func (c *cli) close() {
	if c.app != nil {
		if err := c.app.Close(); err != nil {
			c.logger.Warn("error closing services", zap.Error(err))
		}
		c.app = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root, c := newRootCmd()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	c.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "discover: %v\n", err)
	}
	return ExitCode(err)
}
