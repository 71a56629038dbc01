package cli

import (
	"context"

	"github.com/calvinalkan/shipit/internal/release"

	flag "github.com/spf13/pflag"
)

const shortHashLen = 10

// CommitsCmd returns the commits command.
func CommitsCmd(a *app) *Command {
	fs := flag.NewFlagSet("commits", flag.ContinueOnError)
	fs.Bool("dupes", false, "List the dropped duplicates instead")

	return &Command{
		Flags: fs,
		Usage: "commits [flags]",
		Short: "List the commits of the current release",
		Long: `List the commits of the current release, newest first, after dropping
commits that an earlier release already shipped. Only git is read.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			dupes, _ := fs.GetBool("dupes")

			return execCommits(ctx, o, a, dupes)
		},
	}
}

func execCommits(ctx context.Context, o *IO, a *app, dupes bool) error {
	result, err := a.currentCommits(ctx)
	if err != nil {
		return err
	}

	commits := result.Commits
	if dupes {
		commits = result.Duplicates
	}

	for _, c := range commits {
		o.Println(shortHash(c.Hash), c.Message)
	}

	return nil
}

func (a *app) currentCommits(ctx context.Context) (release.Result, error) {
	err := a.cfg.ValidateReleases()
	if err != nil {
		return release.Result{}, err
	}

	return a.gitBuilder().Commits(ctx, a.cfg.Current(), a.cfg.Prior())
}

func shortHash(hash string) string {
	if len(hash) > shortHashLen {
		return hash[:shortHashLen]
	}

	return hash
}
