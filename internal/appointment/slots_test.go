package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func availableStrings(slots []Slot) []string {
	var out []string
	for _, s := range slots {
		if s.Available {
			out = append(out, s.Start.String())
		}
	}
	return out
}

func TestSlotGridStarts(t *testing.T) {
	starts := DefaultSlotGrid().Starts()
	require.Len(t, starts, 16)
	assert.Equal(t, "09:00", starts[0].String())
	assert.Equal(t, "16:30", starts[15].String())

	odd := SlotGrid{DayStart: 9 * 60, DayEnd: 10*60 + 40, Step: 30}
	assert.Len(t, odd.Starts(), 3, "a partial trailing cell is not offered")
}

func TestSlotGridValidate(t *testing.T) {
	assert.NoError(t, DefaultSlotGrid().Validate())
	assert.Error(t, SlotGrid{DayStart: 9 * 60, DayEnd: 17 * 60, Step: 0}.Validate())
	assert.Error(t, SlotGrid{DayStart: 17 * 60, DayEnd: 9 * 60, Step: 30}.Validate())
	assert.Error(t, SlotGrid{DayStart: 9 * 60, DayEnd: 9*60 + 20, Step: 30}.Validate())
	assert.Error(t, SlotGrid{DayStart: 9 * 60, DayEnd: 25 * 60, Step: 30}.Validate())
}

func TestGenerateSlotsEmptyDay(t *testing.T) {
	slots := GenerateSlots(nil, DefaultSlotGrid(), 0)
	require.Len(t, slots, 16)
	for _, s := range slots {
		assert.True(t, s.Available, s.Start.String())
	}
}

func TestGenerateSlotsPartialOverlapBlocksCell(t *testing.T) {
	// 09:45-10:15 touches both the 09:30 and the 10:00 cells.
	schedule := []Appointment{appt("09:45", 30)}
	slots := GenerateSlots(schedule, DefaultSlotGrid(), 30)

	got := map[string]bool{}
	for _, s := range slots {
		got[s.Start.String()] = s.Available
	}
	assert.True(t, got["09:00"])
	assert.False(t, got["09:30"])
	assert.False(t, got["10:00"])
	assert.True(t, got["10:30"])
}

func TestGenerateSlotsLongerCandidate(t *testing.T) {
	schedule := []Appointment{appt("11:00", 30)}
	slots := GenerateSlots(schedule, DefaultSlotGrid(), 90)

	avail := availableStrings(slots)
	assert.NotContains(t, avail, "10:00", "10:00+90m runs into 11:00")
	assert.Contains(t, avail, "09:30", "09:30+90m ends exactly at 11:00")
	assert.NotContains(t, avail, "16:00", "16:00+90m runs past 17:00")
	assert.Contains(t, avail, "15:30", "15:30+90m ends exactly at 17:00")
}

func TestGenerateSlotsIsIdempotent(t *testing.T) {
	schedule := []Appointment{appt("09:00", 30), appt("13:00", 60)}
	first := GenerateSlots(schedule, DefaultSlotGrid(), 30)
	second := GenerateSlots(schedule, DefaultSlotGrid(), 30)
	assert.Equal(t, first, second)
}

func TestAvailableStartsLimit(t *testing.T) {
	schedule := []Appointment{appt("09:00", 60)}
	got := AvailableStarts(schedule, DefaultSlotGrid(), 30, nil, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "10:00", got[0].String())
	assert.Equal(t, "11:00", got[2].String())

	all := AvailableStarts(schedule, DefaultSlotGrid(), 30, nil, 0)
	assert.Len(t, all, 14)
}

func TestAvailableStartsExcludesMovingAppointment(t *testing.T) {
	moving := appt("09:00", 60)
	schedule := []Appointment{moving, appt("10:30", 30)}

	got := AvailableStarts(schedule, DefaultSlotGrid(), 60, &moving.ID, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "09:00", got[0].String())
	assert.Equal(t, "09:30", got[1].String())

	got = AvailableStarts(schedule, DefaultSlotGrid(), 60, nil, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "11:00", got[0].String())
}
