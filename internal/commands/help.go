package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"gtodo/internal/app"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
)

func init() {
	Register(&HelpCmd{})
}

// HelpCmd implements the help command.
type HelpCmd struct{}

func (c *HelpCmd) Name() string      { return "help" }
func (c *HelpCmd) Aliases() []string { return nil }
func (c *HelpCmd) Synopsis() string  { return "Print usage" }
func (c *HelpCmd) Usage() string     { return "gtodo help" }
func (c *HelpCmd) NeedsApp() bool    { return false }

func (c *HelpCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *HelpCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	fmt.Fprint(out, helpText)
	return exitcode.Success
}

const helpText = `Usage:
  gtodo                                        List cached tasks
  gtodo list [common flags] [--view <view>] [--refresh]
  gtodo done [common flags] [--view <view>] <ref>
  gtodo undone [common flags] [--view <view>] <ref>
  gtodo move [common flags] <ref> <position>
  gtodo sync [common flags]
  gtodo status [common flags] [--metrics]
  gtodo retry [common flags] <action-id> | --all
  gtodo tui [common flags]
  gtodo login [common flags]
  gtodo logout [common flags]
  gtodo help
  gtodo version

Views:
  all (default), today, active, done, upcoming

Task references:
  <n>            number shown by list for the same view
  id:<task-id>   remote task id

Common flags:
  --config <dir>   Override config directory
  --quiet          Suppress informational output
  --debug          Print debug logs to stderr
`
