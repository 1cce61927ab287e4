package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"gtodo/internal/app"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
	"gtodo/internal/output"
)

func init() {
	Register(&ListCmd{})
}

// ListCmd implements the list command.
// Handles both `gtodo` (no args) and `gtodo list --view <view>`.
type ListCmd struct {
	view    viewFlag
	refresh bool
}

// SetView sets the view name (for testing).
func (c *ListCmd) SetView(name string) {
	c.view.name = name
}

// SetRefresh enables a sync before listing (for testing).
func (c *ListCmd) SetRefresh(refresh bool) {
	c.refresh = refresh
}

func (c *ListCmd) Name() string      { return "list" }
func (c *ListCmd) Aliases() []string { return []string{"ls"} }
func (c *ListCmd) Synopsis() string  { return "List cached tasks" }
func (c *ListCmd) Usage() string {
	return "gtodo list [--view today|active|done|all|upcoming] [--refresh]"
}
func (c *ListCmd) NeedsApp() bool { return true }

func (c *ListCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.view.name, "view", "", "")
	fs.BoolVar(&c.refresh, "refresh", false, "")
}

func (c *ListCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintf(errOut, "error: unexpected argument: %s\n", args[0])
		return exitcode.UserError
	}
	view, err := c.view.filter()
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	// The cache is authoritative for display; a failed refresh only warns.
	if c.refresh {
		if err := a.Sync(ctx); err != nil {
			fmt.Fprintf(errOut, "warning: sync failed: %v\n", err)
		}
		printNotices(a, errOut)
	}

	tasks := a.Snapshot(view)
	if len(tasks) == 0 {
		if !cfg.Quiet {
			fmt.Fprintln(out, "no tasks found")
		}
		return exitcode.Success
	}
	for i, task := range tasks {
		output.FormatTask(out, i+1, task)
	}
	return exitcode.Success
}

// printNotices drains the engine's pending notices without blocking.
func printNotices(a *app.App, errOut io.Writer) {
	for {
		select {
		case n := <-a.Engine.Notices():
			fmt.Fprintf(errOut, "warning: %s\n", n)
		default:
			return
		}
	}
}
