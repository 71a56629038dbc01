package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/calvinalkan/shipit/internal/config"
	"github.com/calvinalkan/shipit/internal/settings"

	flag "github.com/spf13/pflag"
)

const defaultCommand = "release"

// Run is the main entry point. Returns exit code.
// sigCh can be nil if signal handling is not needed (e.g., in tests).
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("shipit", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(&strings.Builder{})
	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagLogLevel := globalFlags.String("log-level", "", "Log `level` (debug|info|warn|error)")

	err := globalFlags.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globalFlags, nil)

		return 1
	}

	a := &app{cfg: &config.Config{}, stdin: stdin}
	commands := a.commands()

	rest := globalFlags.Args()

	if *flagHelp || (len(rest) > 0 && rest[0] == "help") {
		printUsage(out, globalFlags, commands)

		return 0
	}

	a.settings = openSettings(env)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: *flagCwd,
		ConfigPath:      *flagConfig,
		LogLevel:        *flagLogLevel,
		Env:             env,
		Settings:        a.settings,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	*a.cfg = cfg
	a.logger = newLogger(errOut, cfg.LogLevel)
	logger := a.logger

	name := defaultCommand
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}

	cmd := findCommand(commands, name)
	if cmd == nil {
		fprintln(errOut, "error: unknown command:", name)
		fprintln(errOut)
		printUsage(errOut, globalFlags, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case sig := <-sigCh:
				logger.Warn("interrupted", "signal", sig)
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	code := cmd.Run(ctx, o, rest)

	// Finish handles warnings and exit code
	finish := o.Finish()
	if code != 0 {
		return code
	}

	return finish
}

// app carries what commands share. Commands are built before the config
// loads so help works with a broken config; cfg is filled in place.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	settings *settings.Store
	stdin    io.Reader
}

func (a *app) commands() []*Command {
	return []*Command{
		ReleaseCmd(a),
		CommitsCmd(a),
		IDsCmd(a),
		WhereCmd(a.stdin),
		LoginCmd(a),
		LogoutCmd(a),
		PrintConfigCmd(a.cfg),
	}
}

func findCommand(commands []*Command, name string) *Command {
	for _, c := range commands {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

var errNoSettingsPath = errors.New("cannot locate settings file: set XDG_CONFIG_HOME or HOME")

func openSettings(env map[string]string) *settings.Store {
	path := settings.DefaultPath(env)
	if path == "" {
		return nil
	}

	return settings.Open(path)
}

// newLogger writes text logs to errOut. Levels are validated by config.Load.
func newLogger(errOut io.Writer, level string) *slog.Logger {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: lvl}))
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globalFlags *flag.FlagSet, commands []*Command) {
	fprintln(w, `shipit - release notes from git history and the issue tracker

Usage: shipit [global flags] [command] [args]

With no command, "release" runs.

Global flags:`)

	var buf strings.Builder

	globalFlags.SetOutput(&buf)
	globalFlags.PrintDefaults()
	globalFlags.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}
