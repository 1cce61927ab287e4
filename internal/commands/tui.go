package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"gtodo/internal/app"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
	"gtodo/internal/tui"
)

func init() {
	Register(&TuiCmd{})
}

// TuiCmd implements the interactive terminal UI.
type TuiCmd struct{}

func (c *TuiCmd) Name() string      { return "tui" }
func (c *TuiCmd) Aliases() []string { return []string{"ui"} }
func (c *TuiCmd) Synopsis() string  { return "Open the interactive task view" }
func (c *TuiCmd) Usage() string     { return "gtodo tui [common flags]" }
func (c *TuiCmd) NeedsApp() bool    { return true }

func (c *TuiCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *TuiCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	// Log lines would corrupt the screen; send them to the log file instead.
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		fmt.Fprintf(errOut, "error: open log file: %v\n", err)
		return exitcode.UserError
	}
	defer logFile.Close()
	logger := a.Logger().Logger
	prev := logger.Out
	logger.SetOutput(logFile)
	defer logger.SetOutput(prev)

	if err := tui.Run(ctx, a); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.BackendError
	}
	return exitcode.Success
}
