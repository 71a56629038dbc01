package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/calvinalkan/shipit/internal/where"

	flag "github.com/spf13/pflag"
)

var (
	errWhereArg   = errors.New("expected exactly one where expression")
	errWhereStdin = errors.New("no stdin to read the expression from")
)

// WhereCmd returns the where command.
func WhereCmd(stdin io.Reader) *Command {
	return &Command{
		Flags: flag.NewFlagSet("where", flag.ContinueOnError),
		Usage: "where <json>",
		Short: "Check a section filter and print its canonical form",
		Long: `Compile a where expression as used by report sections and print its
canonical form. Use "-" to read the expression from stdin.

Examples:
  shipit where '{"equals": {"kind": "bug"}}'
  shipit where '[{"includes": {"labels": "api"}}, {"not": [{"equals": {"current_state": "accepted"}}]}]'
  jq '.sections[0].where' .shipit.json | shipit where -`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errWhereArg
			}

			data := []byte(args[0])

			if args[0] == "-" {
				if stdin == nil {
					return errWhereStdin
				}

				var err error

				data, err = io.ReadAll(stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}

			expr, err := where.Parse(data)
			if err != nil {
				return err
			}

			canonical, err := json.Marshal(expr)
			if err != nil {
				return fmt.Errorf("encoding expression: %w", err)
			}

			o.Println(string(canonical))

			return nil
		},
	}
}
