package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"gtodo/internal/app"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
	"gtodo/internal/pending"
)

func init() {
	Register(&RetryCmd{})
}

// RetryCmd implements the retry command for changes that ran out of attempts.
type RetryCmd struct {
	all bool
}

// SetAll selects every failed change (for testing).
func (c *RetryCmd) SetAll(all bool) {
	c.all = all
}

func (c *RetryCmd) Name() string      { return "retry" }
func (c *RetryCmd) Aliases() []string { return nil }
func (c *RetryCmd) Synopsis() string  { return "Requeue failed changes" }
func (c *RetryCmd) Usage() string     { return "gtodo retry <action-id> | --all" }
func (c *RetryCmd) NeedsApp() bool    { return true }

func (c *RetryCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.all, "all", false, "")
}

func (c *RetryCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	var actionID string
	switch {
	case c.all && len(args) > 0:
		fmt.Fprintln(errOut, "error: cannot use both --all and an action id")
		return exitcode.UserError
	case !c.all && len(args) == 0:
		fmt.Fprintln(errOut, "error: action id required")
		return exitcode.UserError
	case !c.all:
		actionID = args[0]
	}

	n, err := a.Retry(actionID)
	switch {
	case errors.Is(err, pending.ErrUnknownAction):
		fmt.Fprintf(errOut, "error: unknown action: %s\n", actionID)
		return exitcode.UserError
	case errors.Is(err, pending.ErrNotRetryable):
		fmt.Fprintf(errOut, "error: action is not failed: %s\n", actionID)
		return exitcode.UserError
	case err != nil:
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.BackendError
	}

	if n > 0 {
		if _, err := a.Push(ctx); err != nil {
			a.Logger().WithError(err).Debug("immediate push")
		}
		printNotices(a, errOut)
	}

	if !cfg.Quiet {
		fmt.Fprintf(out, "requeued %d\n", n)
	}
	return exitcode.Success
}
