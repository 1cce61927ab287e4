package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gtodo/internal/app"
	"gtodo/internal/cache"
	"gtodo/internal/exitcode"
)

// ErrTaskRefRequired indicates no task reference was provided.
var ErrTaskRefRequired = errors.New("task reference required")

// ParseTaskRef extracts the task reference from args.
//
// Accepted forms:
//  1. <n>          1-based number as printed by list for the selected view
//  2. id:<taskID>  the remote task id
//
// Anything else is an invalid reference.
func ParseTaskRef(args []string) (string, error) {
	if len(args) == 0 {
		return "", ErrTaskRefRequired
	}
	ref := strings.TrimSpace(args[0])
	if id, ok := strings.CutPrefix(ref, "id:"); ok {
		if id == "" {
			return "", fmt.Errorf("invalid task reference: %s", ref)
		}
		return ref, nil
	}
	if !isAllDigits(ref) {
		return "", fmt.Errorf("invalid task reference: %s", ref)
	}
	return ref, nil
}

// isAllDigits returns true if s consists only of ASCII digits and is non-empty.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// resolveTask parses args and resolves the reference against view. On failure
// it prints the error and returns a non-zero exit code.
func resolveTask(a *app.App, view cache.Filter, args []string, errOut io.Writer) (cache.Task, int) {
	ref, err := ParseTaskRef(args)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return cache.Task{}, exitcode.UserError
	}
	task, err := a.ResolveRef(view, ref)
	switch {
	case err == nil:
		return task, exitcode.Success
	case errors.Is(err, app.ErrRefOutOfRange):
		fmt.Fprintf(errOut, "error: task number out of range: %s\n", ref)
	case errors.Is(err, cache.ErrUnknownTask):
		fmt.Fprintf(errOut, "error: task not found: %s\n", strings.TrimPrefix(ref, "id:"))
	default:
		fmt.Fprintf(errOut, "error: %v\n", err)
	}
	return cache.Task{}, exitcode.UserError
}

// viewFlag holds the --view flag shared by list and the task commands.
type viewFlag struct {
	name string
}

func (v *viewFlag) filter() (cache.Filter, error) {
	if v.name == "" {
		return cache.FilterAll, nil
	}
	return cache.ParseFilter(v.name)
}
