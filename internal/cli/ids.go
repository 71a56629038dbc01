package cli

import (
	"context"

	"github.com/calvinalkan/shipit/internal/release"

	flag "github.com/spf13/pflag"
)

// IDsCmd returns the ids command.
func IDsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("ids", flag.ContinueOnError),
		Usage: "ids",
		Short: "List story IDs referenced by the current release",
		Long: `List the story IDs referenced by the commits of the current release, one
per line, in order of first mention. Duplicated commits are ignored.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			result, err := a.currentCommits(ctx)
			if err != nil {
				return err
			}

			for _, id := range release.UniqueIDs(result.Commits) {
				o.Println(id.String())
			}

			return nil
		},
	}
}
