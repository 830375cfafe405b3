package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/ship-safety/internal/logger"
)

// ErrAlreadyRunning is returned when another safety-server owns the ship.
var ErrAlreadyRunning = errors.New("another safety server is already running")

// processLister returns the running processes.
type processLister func() ([]ps.Process, error)

// ensureSingleInstance fails when a process with our executable name other than
// ourselves is running. Two coordinators would fight over the same state file.
func ensureSingleInstance(ctx context.Context, list processLister) error {
	executable, err := os.Executable()
	if err != nil {
		logger.WarnKV(ctx, "Unable to resolve executable, skipping instance check", "error", err)

		return nil
	}

	return checkInstances(filepath.Base(executable), os.Getpid(), list)
}

func checkInstances(name string, self int, list processLister) error {
	processes, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processes {
		if process.Pid() == self || process.Executable() != name {
			continue
		}

		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, process.Pid())
	}

	return nil
}
