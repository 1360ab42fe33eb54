// Package domain provides core business rules for the leads bounded context.
package domain

import "fmt"

// Status is the lifecycle state of a lead.
type Status string

const (
	StatusNew         Status = "New"
	StatusContacted   Status = "Contacted"
	StatusQualified   Status = "Qualified"
	StatusUnqualified Status = "Unqualified"
	StatusConverted   Status = "Converted"
)

// terminalStatuses are lead statuses where no further automated writes may occur.
var terminalStatuses = map[Status]bool{
	StatusConverted:   true,
	StatusUnqualified: true,
}

// allowedTransitions is the forward path New -> Contacted -> Qualified plus
// disqualification from any non-terminal state and conversion from Qualified.
var allowedTransitions = map[Status][]Status{
	StatusNew:       {StatusContacted, StatusUnqualified},
	StatusContacted: {StatusQualified, StatusUnqualified},
	StatusQualified: {StatusConverted, StatusUnqualified},
}

// IsTerminal returns true if the status permits no further transitions.
// Automated components (workflow actions, aging archive) must never move a
// lead out of a terminal status.
func IsTerminal(status Status) bool {
	return terminalStatuses[status]
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusNew, StatusContacted, StatusQualified, StatusUnqualified, StatusConverted:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown lead status %q", raw)
}

// ValidateTransition checks whether moving from one status to another is
// allowed. A same-status write is treated as a no-op and is always valid.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if IsTerminal(from) {
		return fmt.Errorf("lead status %s is terminal", from)
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s -> %s", from, to)
}
