package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nandu-collab/marketpulse-bot/internal/app"
	"github.com/nandu-collab/marketpulse-bot/internal/config"
	"github.com/nandu-collab/marketpulse-bot/internal/logging"
)

const configEnv = "MARKETPULSE_CONFIG"

type cli struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "marketpulse",
		Short: "Indian market news bot for Telegram",
		Long: `marketpulse polls market news feeds, IPO listings and FII/DII flows on a
schedule and posts what it has not posted before to a Telegram chat.

Without a subcommand it runs the scheduler and the liveness server.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.loadConfig,
		RunE:              c.runServe,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (overrides $"+configEnv+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler and liveness server until interrupted",
			Args:  cobra.NoArgs,
			RunE:  c.runServe,
		},
		&cobra.Command{
			Use:   "trigger <job>",
			Short: "Run one job once, now",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runTrigger,
		},
		&cobra.Command{
			Use:   "send-test",
			Short: "Post a test message to the configured chat",
			Args:  cobra.NoArgs,
			RunE:  c.runSendTest,
		},
		&cobra.Command{
			Use:   "jobs",
			Short: "List jobs and their triggers",
			Args:  cobra.NoArgs,
			RunE:  c.runJobs,
		},
	)
	return root
}

func (c *cli) loadConfig(_ *cobra.Command, _ []string) error {
	if c.configPath != "" {
		if err := os.Setenv(configEnv, c.configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c.cfg = cfg
	c.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

func (c *cli) build(ctx context.Context) (*app.Application, error) {
	return app.New(ctx, c.cfg, c.logger)
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := c.build(ctx)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

func (c *cli) runTrigger(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := c.build(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Trigger(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %s finished\n", args[0])
	return nil
}

func (c *cli) runSendTest(cmd *cobra.Command, _ []string) error {
	application, err := c.build(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Discard()

	if err := application.SendTest(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Message sent successfully")
	return nil
}

func (c *cli) runJobs(cmd *cobra.Command, _ []string) error {
	application, err := c.build(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Discard()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "JOB\tTRIGGER\tTIMEZONE\n")
	for _, job := range application.Jobs() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", job.Name, job.Trigger, c.cfg.Scheduler.Timezone)
	}
	return w.Flush()
}
