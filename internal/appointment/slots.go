package appointment

import (
	"fmt"

	"github.com/google/uuid"
)

// SlotGrid is the facility's fixed daily booking grid.
type SlotGrid struct {
	DayStart TimeOfDay
	DayEnd   TimeOfDay
	Step     int // minutes
}

func DefaultSlotGrid() SlotGrid {
	return SlotGrid{DayStart: 9 * 60, DayEnd: 17 * 60, Step: 30}
}

func (g SlotGrid) Validate() error {
	if g.Step <= 0 {
		return fmt.Errorf("slot step must be positive, got %d", g.Step)
	}
	if g.DayStart < 0 || int(g.DayEnd) > minutesPerDay || g.DayStart >= g.DayEnd {
		return fmt.Errorf("invalid working day %s-%s", g.DayStart, g.DayEnd)
	}
	if int(g.DayEnd-g.DayStart) < g.Step {
		return fmt.Errorf("working day %s-%s is shorter than one %dm slot", g.DayStart, g.DayEnd, g.Step)
	}
	return nil
}

// Starts enumerates every grid cell start whose full step fits in the day.
func (g SlotGrid) Starts() []TimeOfDay {
	var out []TimeOfDay
	for t := int(g.DayStart); t+g.Step <= int(g.DayEnd); t += g.Step {
		out = append(out, TimeOfDay(t))
	}
	return out
}

// GenerateSlots classifies each grid cell for a candidate of duration minutes
// (the grid step when duration <= 0). A cell is unavailable if the candidate
// starting there overlaps anything in schedule, even partially, or would run
// past the end of the working day.
func GenerateSlots(schedule []Appointment, grid SlotGrid, duration int) []Slot {
	return generateSlots(schedule, grid, duration, nil)
}

func generateSlots(schedule []Appointment, grid SlotGrid, duration int, excludeID *uuid.UUID) []Slot {
	if duration <= 0 {
		duration = grid.Step
	}
	starts := grid.Starts()
	slots := make([]Slot, 0, len(starts))
	for _, start := range starts {
		candidate := Interval{Start: start, Duration: duration}
		available := candidate.End() <= int(grid.DayEnd) && !HasConflict(schedule, candidate, excludeID)
		slots = append(slots, Slot{Start: start, Available: available})
	}
	return slots
}

// AvailableStarts filters GenerateSlots down to the bookable starts, capped at
// limit when limit > 0. The appointment named by excludeID, if any, is treated
// as absent from schedule.
func AvailableStarts(schedule []Appointment, grid SlotGrid, duration int, excludeID *uuid.UUID, limit int) []TimeOfDay {
	var out []TimeOfDay
	for _, s := range generateSlots(schedule, grid, duration, excludeID) {
		if !s.Available {
			continue
		}
		out = append(out, s.Start)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
