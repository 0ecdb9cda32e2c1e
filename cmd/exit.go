package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitConfig    = 1
	ExitAuth      = 2
	ExitCancelled = 3
	ExitStorage   = 4
)

// runError carries the exit code of a crawl that did not complete.
type runError struct {
	state discovery.SessionState
	err   error
}

func (e *runError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("run ended %s", e.state)
	}
	return fmt.Sprintf("run ended %s: %v", e.state, e.err)
}

func (e *runError) Unwrap() error { return e.err }

// ExitCode maps a command error onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var re *runError
	if errors.As(err, &re) {
		switch re.state {
		case discovery.SessionAuthFailed:
			return ExitAuth
		case discovery.SessionCancelled:
			return ExitCancelled
		case discovery.SessionStorageFailed:
			return ExitStorage
		case discovery.SessionCompleted:
			return ExitOK
		}
	}
	switch {
	case discovery.IsAuth(err):
		return ExitAuth
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case discovery.IsStorage(err):
		return ExitStorage
	default:
		return ExitConfig
	}
}
