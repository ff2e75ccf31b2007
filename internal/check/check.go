package check

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/dago-stream-watcher/internal/source"
)

// ErrCheckFailed is the failure recorded when a worker ends because of the restart policy
var ErrCheckFailed = errors.New("frame check failed")

// Func reports whether a sampled frame passes the check
type Func func(frame source.Frame) bool

// Always is a check that never fails
func Always(source.Frame) bool { return true }

// Policy decides what a worker does when a check returns false
type Policy string

const (
	// PolicyIgnore discards negative results
	PolicyIgnore Policy = "ignore"

	// PolicyWarn logs negative results
	PolicyWarn Policy = "warn"

	// PolicyRestart ends the worker in the Failed state so it is rebuilt
	PolicyRestart Policy = "restart"
)

// ParsePolicy parses a policy name, defaulting to warn when empty
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyWarn, nil
	case PolicyIgnore, PolicyWarn, PolicyRestart:
		return p, nil
	default:
		return "", fmt.Errorf("unknown check policy %q (want ignore, warn or restart)", s)
	}
}
