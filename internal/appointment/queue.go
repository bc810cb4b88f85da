package appointment

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ProjectQueue derives the live queue of a doctor for one day: confirmed and
// in-progress appointments ordered by slot time, ranked from 1.
func ProjectQueue(appts []Appointment, doctorID uuid.UUID, date time.Time) []QueueEntry {
	waiting := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.DoctorID != doctorID || !sameDay(a.Date, date) {
			continue
		}
		if a.Status == StatusConfirmed || a.Status == StatusInProgress {
			waiting = append(waiting, a)
		}
	}

	sort.SliceStable(waiting, func(i, j int) bool {
		if waiting[i].Slot != waiting[j].Slot {
			return waiting[i].Slot < waiting[j].Slot
		}
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})

	entries := make([]QueueEntry, 0, len(waiting))
	for i, a := range waiting {
		entries = append(entries, QueueEntry{
			Position:              i + 1,
			AppointmentID:         a.ID,
			PatientID:             a.PatientID,
			TimeSlot:              a.TimeSlot(),
			Status:                a.Status,
			ConsultationType:      a.ConsultationType,
			Symptoms:              a.Symptoms,
			ConsultationStartedAt: a.ConsultationStartedAt,
		})
	}
	return entries
}
