package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"gtodo/internal/app"
	"gtodo/internal/cache"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
)

func init() {
	Register(&MoveCmd{})
}

// MoveCmd implements the move command. Reordering is local-only and is
// never sent to the server.
type MoveCmd struct{}

func (c *MoveCmd) Name() string      { return "move" }
func (c *MoveCmd) Aliases() []string { return []string{"mv"} }
func (c *MoveCmd) Synopsis() string  { return "Move a task to a position in the full list" }
func (c *MoveCmd) Usage() string     { return "gtodo move <ref> <position>" }
func (c *MoveCmd) NeedsApp() bool    { return true }

func (c *MoveCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *MoveCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(errOut, "error: task reference and position required")
		return exitcode.UserError
	}
	task, code := resolveTask(a, cache.FilterAll, args[:1], errOut)
	if code != exitcode.Success {
		return code
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil || pos < 1 {
		fmt.Fprintf(errOut, "error: invalid position: %s\n", args[1])
		return exitcode.UserError
	}

	if err := a.Reorder(task.ID, pos-1); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.BackendError
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
