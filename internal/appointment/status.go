package appointment

import "fmt"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusScheduled, StatusCheckedIn, StatusCompleted, StatusCancelled}

var allowedTransitions = map[Status]map[Status]bool{
	StatusScheduled: {StatusCheckedIn: true, StatusCancelled: true},
	StatusCheckedIn: {StatusCompleted: true, StatusCancelled: true},
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Transition returns requested if the edge current -> requested is legal.
func Transition(current, requested Status) (Status, error) {
	if !allowedTransitions[current][requested] {
		return current, &TransitionError{From: current, To: requested}
	}
	return requested, nil
}
