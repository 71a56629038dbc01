package cli

import (
	"context"
	"strconv"

	"github.com/calvinalkan/shipit/internal/config"

	flag "github.com/spf13/pflag"
)

const unsetValue = "(unset)"

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long: `Display the effective configuration and which files it was loaded from.
Tokens are masked.`,
		Exec: func(_ context.Context, io *IO, _ []string) error {
			execPrintConfig(io, cfg)

			return nil
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("repo_path=" + cfg.RepoPathAbs)
	io.Println("branch=" + cfg.Branch)
	io.Println("concurrency=" + strconv.Itoa(cfg.Concurrency))
	io.Println("log_level=" + cfg.LogLevel)

	io.Println("tracker.project_id=" + strconv.FormatInt(cfg.Tracker.ProjectID, 10))
	io.Println("tracker.token=" + maskToken(cfg.Tracker.Token, cfg.Sources.TrackerToken))
	printIfSet(io, "tracker.base_url", cfg.Tracker.BaseURL)

	printIfSet(io, "flags.app_key", cfg.Flags.AppKey)
	io.Println("flags.api_token=" + maskToken(cfg.Flags.APIToken, cfg.Sources.FlagsToken))
	printIfSet(io, "flags.environment", cfg.Flags.Environment)
	printIfSet(io, "flags.base_url", cfg.Flags.BaseURL)

	printIfSet(io, "upsource.base_url", cfg.Upsource.BaseURL)
	printIfSet(io, "upsource.project", cfg.Upsource.Project)

	for i, w := range cfg.Releases {
		io.Println("releases[" + strconv.Itoa(i) + "]=" + w.String())
	}

	for i, s := range cfg.Sections {
		io.Println("sections[" + strconv.Itoa(i) + "]=" + s.Header)
	}

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}
}

func printIfSet(io *IO, key, value string) {
	if value != "" {
		io.Println(key + "=" + value)
	}
}

// maskToken keeps the last four characters of long tokens.
func maskToken(token, source string) string {
	if token == "" {
		return unsetValue
	}

	masked := "****"
	if len(token) > 8 {
		masked += token[len(token)-4:]
	}

	return masked + " (" + source + ")"
}
