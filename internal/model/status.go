package model

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusRemoved   Status = "removed"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusExpired:   true,
	StatusRemoved:   true,
}

// Content lifecycle: pending → active → terminal.
// A pending item can be dropped at admission without ever running.
var validContentTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusActive:  true,
		StatusRemoved: true,
	},
	StatusActive: {
		StatusCompleted: true,
		StatusExpired:   true,
		StatusRemoved:   true,
	},
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func ValidateContentTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validContentTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid content transition: %q → %q", from, to)
	}
	return nil
}
