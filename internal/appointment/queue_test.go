package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectQueue_Ordering(t *testing.T) {
	doctorID := uuid.New()
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	mk := func(label string, status Status) Appointment {
		slot, err := ParseTimeSlot(label)
		require.NoError(t, err)
		return Appointment{ID: uuid.New(), PatientID: uuid.New(), DoctorID: doctorID, Date: date, Slot: slot, Status: status}
	}

	appts := []Appointment{
		mk("11:00 AM", StatusConfirmed),
		mk("09:00 AM", StatusInProgress),
		mk("02:00 PM", StatusCompleted),
	}

	queue := ProjectQueue(appts, doctorID, date)
	require.Len(t, queue, 2)

	assert.Equal(t, "09:00 AM", queue[0].TimeSlot)
	assert.Equal(t, 1, queue[0].Position)
	assert.Equal(t, StatusInProgress, queue[0].Status)
	assert.Equal(t, appts[1].ID, queue[0].AppointmentID)

	assert.Equal(t, "11:00 AM", queue[1].TimeSlot)
	assert.Equal(t, 2, queue[1].Position)
}

// Lexicographic order of the labels would put 01:00 PM before 09:00 AM.
func TestProjectQueue_SortsByTimeNotLabel(t *testing.T) {
	doctorID := uuid.New()
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	appts := []Appointment{
		{ID: uuid.New(), DoctorID: doctorID, Date: date, Slot: 13 * 60, Status: StatusConfirmed},
		{ID: uuid.New(), DoctorID: doctorID, Date: date, Slot: 9 * 60, Status: StatusConfirmed},
	}

	queue := ProjectQueue(appts, doctorID, date)
	require.Len(t, queue, 2)
	assert.Equal(t, "09:00 AM", queue[0].TimeSlot)
	assert.Equal(t, "01:00 PM", queue[1].TimeSlot)
}

func TestProjectQueue_FiltersDoctorDateAndStatus(t *testing.T) {
	doctorID := uuid.New()
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	appts := []Appointment{
		{ID: uuid.New(), DoctorID: doctorID, Date: date.AddDate(0, 0, -1), Slot: 600, Status: StatusConfirmed},
		{ID: uuid.New(), DoctorID: uuid.New(), Date: date, Slot: 600, Status: StatusConfirmed},
		{ID: uuid.New(), DoctorID: doctorID, Date: date, Slot: 630, Status: StatusScheduled},
		{ID: uuid.New(), DoctorID: doctorID, Date: date, Slot: 660, Status: StatusCheckedIn},
		{ID: uuid.New(), DoctorID: doctorID, Date: date, Slot: 690, Status: StatusCancelled},
		{ID: uuid.New(), DoctorID: doctorID, Date: date, Slot: 720, Status: StatusNoShow},
	}

	queue := ProjectQueue(appts, doctorID, date)
	assert.NotNil(t, queue)
	assert.Empty(t, queue)
}
