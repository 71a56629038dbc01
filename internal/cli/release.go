package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/shipit/internal/flags"
	"github.com/calvinalkan/shipit/internal/gitlog"
	"github.com/calvinalkan/shipit/internal/report"
	"github.com/calvinalkan/shipit/internal/tracker"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
)

// ReleaseCmd returns the release command.
func ReleaseCmd(a *app) *Command {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	fs.Bool("no-dupes", false, "Do not list commits dropped as duplicates")
	fs.StringP("output", "o", "", "Write the report to `file` instead of stdout")

	return &Command{
		Flags: fs,
		Usage: "release [flags]",
		Short: "Print the release report (default command)",
		Long: `Print a Markdown report of the stories shipped in the current release.

The current release is the last entry of "releases" in the config; the
entries before it are earlier releases. Commits that an earlier release
already shipped are dropped and listed on stderr.

Stories are read from Pivotal Tracker, including every story transitively
blocking them. Feature flag states are read from Rollout when flags.app_key
and a flags token are configured.

Examples:
  shipit release                 # Report to stdout
  shipit release -o RELEASE.md   # Report to a file
  shipit --log-level debug       # Show tracker requests on stderr`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			noDupes, _ := fs.GetBool("no-dupes")
			output, _ := fs.GetString("output")

			return execRelease(ctx, o, a, noDupes, output)
		},
	}
}

func execRelease(ctx context.Context, o *IO, a *app, noDupes bool, output string) error {
	err := a.cfg.ValidateReleases()
	if err != nil {
		return err
	}

	builder, err := a.reportBuilder(ctx, o)
	if err != nil {
		return err
	}

	r, err := builder.Build(ctx, a.cfg.Current(), a.cfg.Prior())
	if err != nil {
		return err
	}

	if !noDupes {
		if dupes := report.Duplicates(r.Dedup.Duplicates); dupes != "" {
			o.ErrPrintf("%s\n", dupes)
		}
	}

	r.ApplySections(a.cfg.Sections)

	md := r.Markdown(report.RenderOptions{
		Upsource: report.Upsource{
			BaseURL: a.cfg.Upsource.BaseURL,
			Project: a.cfg.Upsource.Project,
			Branch:  a.cfg.Branch,
		},
	})

	if output == "" {
		o.Printf("%s", md)

		return nil
	}

	if !filepath.IsAbs(output) {
		output = filepath.Join(a.cfg.EffectiveCwd, output)
	}

	err = os.MkdirAll(filepath.Dir(output), 0o750)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	err = atomic.WriteFile(output, strings.NewReader(md))
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	a.logger.Info("report written", "path", output, "stories", len(r.Release))

	return nil
}

// gitBuilder returns a builder that can only collect commits.
func (a *app) gitBuilder() *report.Builder {
	return &report.Builder{
		Git:         gitlog.Collector{RepoPath: a.cfg.RepoPathAbs},
		Concurrency: a.cfg.Concurrency,
		Logger:      a.logger,
	}
}

// reportBuilder wires the tracker and, when configured, the flag service.
func (a *app) reportBuilder(ctx context.Context, o *IO) (*report.Builder, error) {
	err := a.cfg.ValidateTracker()
	if err != nil {
		return nil, err
	}

	client, err := tracker.New(tracker.Options{
		BaseURL:     a.cfg.Tracker.BaseURL,
		ProjectID:   a.cfg.Tracker.ProjectID,
		Token:       a.cfg.Tracker.Token,
		Concurrency: a.cfg.Concurrency,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}

	b := a.gitBuilder()
	b.Tracker = client
	b.ReviewTypes = a.cfg.Tracker.ReviewTypeIDs
	b.FlagParser = flags.Parser{AppKey: a.cfg.Flags.AppKey, URLTemplate: a.cfg.Flags.URLTemplate}

	switch {
	case a.cfg.Flags.AppKey == "":
		a.logger.Debug("flag states disabled", "reason", "no flags.app_key")
	case a.cfg.Flags.APIToken == "":
		o.Warn("flags.app_key is set but no flags token was found",
			"run 'shipit login --flags-token <token>' or set SHIPIT_FLAGS_TOKEN; all flags are reported off")
	default:
		flagClient, err := flags.New(ctx, flags.Options{
			BaseURL:     a.cfg.Flags.BaseURL,
			AppKey:      a.cfg.Flags.AppKey,
			Environment: a.cfg.Flags.Environment,
			Token:       a.cfg.Flags.APIToken,
			Logger:      a.logger,
		})
		if err != nil {
			return nil, err
		}

		b.Flags = flagClient
	}

	return b, nil
}
