package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"gtodo/internal/app"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
	"gtodo/internal/pending"
)

func init() {
	Register(&DoneCmd{})
	Register(&UndoneCmd{})
}

// DoneCmd implements the done command.
type DoneCmd struct {
	view viewFlag
}

// SetView sets the view the reference is resolved against (for testing).
func (c *DoneCmd) SetView(name string) {
	c.view.name = name
}

func (c *DoneCmd) Name() string      { return "done" }
func (c *DoneCmd) Aliases() []string { return []string{"complete"} }
func (c *DoneCmd) Synopsis() string  { return "Mark a task completed" }
func (c *DoneCmd) Usage() string     { return "gtodo done [--view <view>] <ref>" }
func (c *DoneCmd) NeedsApp() bool    { return true }

func (c *DoneCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.view.name, "view", "", "")
}

func (c *DoneCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	return setCompleted(ctx, cfg, a, &c.view, true, args, out, errOut)
}

// UndoneCmd implements the undone command.
type UndoneCmd struct {
	view viewFlag
}

// SetView sets the view the reference is resolved against (for testing).
func (c *UndoneCmd) SetView(name string) {
	c.view.name = name
}

func (c *UndoneCmd) Name() string      { return "undone" }
func (c *UndoneCmd) Aliases() []string { return []string{"reopen"} }
func (c *UndoneCmd) Synopsis() string  { return "Mark a task not completed" }
func (c *UndoneCmd) Usage() string     { return "gtodo undone [--view <view>] <ref>" }
func (c *UndoneCmd) NeedsApp() bool    { return true }

func (c *UndoneCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.view.name, "view", "", "")
}

func (c *UndoneCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	return setCompleted(ctx, cfg, a, &c.view, false, args, out, errOut)
}

// setCompleted applies the change locally, then attempts one push. The
// command succeeds once the change is queued, whether or not the push lands.
func setCompleted(ctx context.Context, cfg *config.Config, a *app.App, v *viewFlag, completed bool, args []string, out, errOut io.Writer) int {
	view, err := v.filter()
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}
	task, code := resolveTask(a, view, args, errOut)
	if code != exitcode.Success {
		return code
	}

	actionID, err := a.SetCompleted(task.ID, completed)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.BackendError
	}

	if _, err := a.Push(ctx); err != nil {
		a.Logger().WithError(err).Debug("immediate push")
	}
	printNotices(a, errOut)

	if cfg.Quiet {
		return exitcode.Success
	}
	if act, ok := a.Log.Get(actionID); ok && act.Status != pending.StatusConfirmed {
		fmt.Fprintln(out, "ok (queued)")
		return exitcode.Success
	}
	fmt.Fprintln(out, "ok")
	return exitcode.Success
}
