package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/calvinalkan/shipit/internal/settings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

var (
	errLoginAborted = errors.New("login aborted")
	errNoTokens     = errors.New("no tokens given")
)

// LoginCmd returns the login command.
func LoginCmd(a *app) *Command {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.String("tracker-token", "", "Pivotal Tracker API `token`")
	fs.String("flags-token", "", "Rollout API `token`")

	return &Command{
		Flags: fs,
		Usage: "login [flags]",
		Short: "Store API tokens in the settings file",
		Long: `Store API tokens in the user settings file so they do not have to live in
.shipit.json or the environment. Tokens not given as flags are prompted for;
leave an answer empty to keep the stored value.

Tokens from the config file or environment take precedence over stored ones.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			values := map[string]string{}
			values[settings.KeyTrackerToken], _ = fs.GetString("tracker-token")
			values[settings.KeyFlagsToken], _ = fs.GetString("flags-token")

			if !fs.Changed("tracker-token") && !fs.Changed("flags-token") {
				err := promptTokens(a.stdin, o, values)
				if err != nil {
					return err
				}
			}

			return execLogin(o, a.settings, values)
		},
	}
}

func execLogin(o *IO, store *settings.Store, values map[string]string) error {
	if store == nil {
		return errNoSettingsPath
	}

	stored := 0

	for _, v := range values {
		if v != "" {
			stored++
		}
	}

	if stored == 0 {
		return errNoTokens
	}

	err := store.Set(values)
	if err != nil {
		return err
	}

	o.Printf("Stored %d token(s) in %s\n", stored, store.Path())

	return nil
}

// LogoutCmd returns the logout command.
func LogoutCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("logout", flag.ContinueOnError),
		Usage: "logout",
		Short: "Remove stored API tokens",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			if a.settings == nil {
				return errNoSettingsPath
			}

			err := a.settings.Delete(settings.KeyTrackerToken, settings.KeyFlagsToken)
			if err != nil {
				return err
			}

			o.Println("Removed stored tokens from", a.settings.Path())

			return nil
		},
	}
}

var tokenPrompts = []struct {
	key   string
	label string
}{
	{settings.KeyTrackerToken, "Pivotal Tracker token: "},
	{settings.KeyFlagsToken, "Rollout token: "},
}

// promptTokens asks for every token. On the process terminal it uses liner so
// input is not echoed; any other reader is read line by line.
func promptTokens(stdin io.Reader, o *IO, values map[string]string) error {
	if stdin == nil {
		return errNoTokens
	}

	if f, ok := stdin.(*os.File); ok && f == os.Stdin {
		return promptTerminal(values)
	}

	r := bufio.NewReader(stdin)

	for _, p := range tokenPrompts {
		o.ErrPrintf("%s", p.label)

		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading %s: %w", p.key, err)
		}

		values[p.key] = strings.TrimSpace(line)

		if errors.Is(err, io.EOF) {
			break
		}
	}

	o.ErrPrintln()

	return nil
}

func promptTerminal(values map[string]string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for _, p := range tokenPrompts {
		answer, err := line.PasswordPrompt(p.label)
		if errors.Is(err, liner.ErrNotTerminalOutput) {
			answer, err = line.Prompt(p.label)
		}

		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			return errLoginAborted
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("reading %s: %w", p.key, err)
		}

		values[p.key] = strings.TrimSpace(answer)
	}

	return nil
}
