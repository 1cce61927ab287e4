package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"gtodo/internal/app"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
	"gtodo/internal/output"
)

func init() {
	Register(&StatusCmd{})
}

// StatusCmd implements the status command.
type StatusCmd struct {
	metrics bool
	now     func() time.Time
}

// SetMetrics enables the metrics dump (for testing).
func (c *StatusCmd) SetMetrics(on bool) {
	c.metrics = on
}

// SetClock sets the clock used for relative times (for testing).
func (c *StatusCmd) SetClock(now func() time.Time) {
	c.now = now
}

func (c *StatusCmd) Name() string      { return "status" }
func (c *StatusCmd) Aliases() []string { return nil }
func (c *StatusCmd) Synopsis() string  { return "Show sync status and failed changes" }
func (c *StatusCmd) Usage() string     { return "gtodo status [--metrics]" }
func (c *StatusCmd) NeedsApp() bool    { return true }

func (c *StatusCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.metrics, "metrics", false, "")
}

func (c *StatusCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	output.FormatStatus(out, a.Status(), now())

	if failures := a.Failures(); len(failures) > 0 {
		fmt.Fprintln(out, output.ListSeparator)
		for _, act := range failures {
			title := act.TaskID
			if t, ok := a.Store.Get(act.TaskID); ok {
				title = t.Title
			}
			output.FormatFailure(out, act, title)
		}
	}

	if c.metrics {
		fmt.Fprintln(out, output.ListSeparator)
		if err := a.Engine.Metrics().Write(out); err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.BackendError
		}
	}
	return exitcode.Success
}
