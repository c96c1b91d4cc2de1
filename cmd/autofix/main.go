// Command autofix is run by CI after an "AI fix" workflow dispatch. It asks
// the configured language model for a patch and opens a pull request.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/justmike1/triagebot/autofix"
	"github.com/justmike1/triagebot/config"
	"github.com/justmike1/triagebot/github"
	"github.com/justmike1/triagebot/llm"
	"github.com/justmike1/triagebot/notify"
	"github.com/justmike1/triagebot/prompts"
)

func main() {
	app := &cli.App{
		Name:      "autofix",
		Usage:     "Propose an LLM-generated fix for a GitHub issue and open a pull request",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "issue",
				Aliases:  []string{"i"},
				Usage:    "Issue `NUMBER` to fix",
				EnvVars:  []string{"ISSUE_NUMBER"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Generate the patch without committing or opening a PR",
			},
			&cli.BoolFlag{
				Name:  "no-notify",
				Usage: "Skip the Slack notification for the new PR",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Abort after `DURATION`",
				Value: 5 * time.Minute,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("autofix failed")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	tracker, err := github.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	model, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if model == nil {
		return fmt.Errorf("LLM backend: %w", config.ErrNotConfigured)
	}

	store, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return err
	}

	var notifier autofix.Notifier
	if !c.Bool("no-notify") {
		notifier = notify.NewDispatcher(cfg.WebhookFor)
	}

	fixer := autofix.NewFixer(tracker, model, store, notifier).WithDryRun(c.Bool("dry-run"))
	result, err := fixer.Run(ctx, c.Int("issue"))
	if err != nil {
		return fmt.Errorf("issue #%d: %w", c.Int("issue"), err)
	}

	if result.PR == nil {
		fmt.Printf("dry run: would change %s for issue #%d\n", result.File, result.Issue)
		return nil
	}
	fmt.Printf("opened %s (branch %s)\n", result.PR.URL, result.Branch)
	return nil
}
