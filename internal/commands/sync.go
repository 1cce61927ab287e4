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
	"gtodo/internal/remote"
)

func init() {
	Register(&SyncCmd{})
}

// SyncCmd implements the sync command: one pull followed by one push round.
type SyncCmd struct{}

func (c *SyncCmd) Name() string      { return "sync" }
func (c *SyncCmd) Aliases() []string { return nil }
func (c *SyncCmd) Synopsis() string  { return "Pull remote tasks and push queued changes" }
func (c *SyncCmd) Usage() string     { return "gtodo sync" }
func (c *SyncCmd) NeedsApp() bool    { return true }

func (c *SyncCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *SyncCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	err := a.Sync(ctx)
	printNotices(a, errOut)
	if err != nil {
		return syncError(err, errOut)
	}

	if !cfg.Quiet {
		st := a.Status()
		if st.Pending > 0 {
			fmt.Fprintf(out, "ok (%d pending)\n", st.Pending)
		} else {
			fmt.Fprintln(out, "ok")
		}
	}
	return exitcode.Success
}

// syncError reports a failed sync and maps it to an exit code.
func syncError(err error, errOut io.Writer) int {
	var rejected *remote.RejectedError
	switch {
	case errors.Is(err, app.ErrNotLoggedIn):
		fmt.Fprintf(errOut, "error: %v\n", app.ErrNotLoggedIn)
		return exitcode.AuthError
	case errors.As(err, &rejected) && rejected.Reason == remote.ReasonPermission:
		fmt.Fprintf(errOut, "error: auth error: %v\n", err)
		return exitcode.AuthError
	}
	fmt.Fprintf(errOut, "error: backend error: %v\n", err)
	return exitcode.BackendError
}
