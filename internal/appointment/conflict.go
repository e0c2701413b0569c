package appointment

import "github.com/google/uuid"

// The detector works on a schedule already loaded from the repository, which
// guarantees cancelled appointments are absent. Status is not re-checked here.

// HasConflict reports whether any appointment in schedule, other than the one
// identified by excludeID, overlaps candidate.
func HasConflict(schedule []Appointment, candidate Interval, excludeID *uuid.UUID) bool {
	for i := range schedule {
		if excluded(schedule[i], excludeID) {
			continue
		}
		if Overlaps(schedule[i].Interval(), candidate) {
			return true
		}
	}
	return false
}

// FindConflicting returns every appointment in schedule that overlaps
// candidate, skipping excludeID. The result is nil when there is no conflict.
func FindConflicting(schedule []Appointment, candidate Interval, excludeID *uuid.UUID) []Appointment {
	var out []Appointment
	for i := range schedule {
		if excluded(schedule[i], excludeID) {
			continue
		}
		if Overlaps(schedule[i].Interval(), candidate) {
			out = append(out, schedule[i])
		}
	}
	return out
}

func excluded(a Appointment, excludeID *uuid.UUID) bool {
	return excludeID != nil && a.ID == *excludeID
}
