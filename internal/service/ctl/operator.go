package ctl

import (
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// DetectOperator gathers host and user information for the audit trail.
func DetectOperator() (*safety.Operator, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &safety.Operator{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}
