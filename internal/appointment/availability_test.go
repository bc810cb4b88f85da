package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekdayProfile(doctorID uuid.UUID) AvailabilityProfile {
	return AvailabilityProfile{
		DoctorID:    doctorID,
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Start:       9 * 60,
		End:         17 * 60,
	}
}

func defaultCatalog(t *testing.T) Catalog {
	t.Helper()
	c, err := NewCatalog(30*time.Minute, "13:00", "14:00")
	require.NoError(t, err)
	return c
}

func labels(slots []TimeOfDay) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Label())
	}
	return out
}

func TestCatalog_SkipsLunch(t *testing.T) {
	c := defaultCatalog(t)
	got := labels(c.Slots(weekdayProfile(uuid.New())))

	assert.Equal(t, []string{
		"09:00 AM", "09:30 AM", "10:00 AM", "10:30 AM", "11:00 AM", "11:30 AM", "12:00 PM", "12:30 PM",
		"02:00 PM", "02:30 PM", "03:00 PM", "03:30 PM", "04:00 PM", "04:30 PM",
	}, got)
}

func TestCatalog_NoLunch(t *testing.T) {
	c, err := NewCatalog(time.Hour, "", "")
	require.NoError(t, err)

	p := weekdayProfile(uuid.New())
	p.Start, p.End = 10*60, 13*60+30
	assert.Equal(t, []string{"10:00 AM", "11:00 AM", "12:00 PM"}, labels(c.Slots(p)))
}

func TestNewCatalog_Invalid(t *testing.T) {
	_, err := NewCatalog(30*time.Second, "", "")
	assert.Error(t, err)

	_, err = NewCatalog(30*time.Minute, "14:00", "13:00")
	assert.Error(t, err)

	_, err = NewCatalog(30*time.Minute, "lunch", "14:00")
	assert.Error(t, err)
}

func TestComputeAvailability_MarksTakenSlots(t *testing.T) {
	doctorID := uuid.New()
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	c := defaultCatalog(t)

	existing := []Appointment{
		{DoctorID: doctorID, Date: date, Slot: 600, Status: StatusScheduled},
		{DoctorID: doctorID, Date: date, Slot: 630, Status: StatusCancelled},
		{DoctorID: doctorID, Date: date, Slot: 660, Status: StatusNoShow},
		{DoctorID: doctorID, Date: date, Slot: 690, Status: StatusCompleted},
		{DoctorID: doctorID, Date: date.AddDate(0, 0, 1), Slot: 540, Status: StatusConfirmed},
		{DoctorID: uuid.New(), Date: date, Slot: 570, Status: StatusConfirmed},
	}

	slots := ComputeAvailability(weekdayProfile(doctorID), date, c, existing)
	require.Len(t, slots, 14)

	taken := map[string]bool{}
	for _, s := range slots {
		if !s.Available {
			taken[s.TimeSlot] = true
		}
	}
	assert.Equal(t, map[string]bool{"10:00 AM": true, "11:30 AM": true}, taken)
}

func TestComputeAvailability_NonWorkingDay(t *testing.T) {
	doctorID := uuid.New()
	sunday := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)

	slots := ComputeAvailability(weekdayProfile(doctorID), sunday, defaultCatalog(t), nil)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}
