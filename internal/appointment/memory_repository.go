package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository. The slot uniqueness check
// and the insert happen under one lock, giving the same guarantee as the
// Postgres partial unique index.
type MemoryRepository struct {
	mu          sync.RWMutex
	items       map[uuid.UUID]Appointment
	events      map[uuid.UUID][]EventLog
	nextEventID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:  make(map[uuid.UUID]Appointment),
		events: make(map[uuid.UUID][]EventLog),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, appt *Appointment, ev EventLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.DoctorID == appt.DoctorID &&
			sameDay(existing.Date, appt.Date) &&
			existing.Slot == appt.Slot &&
			existing.Status.OccupiesSlot() {
			return nil, ErrSlotTaken
		}
	}

	stored := *appt
	stored.Date = CalendarDay(stored.Date)
	r.items[stored.ID] = stored
	r.appendEvent(stored.ID, ev)

	out := stored
	return &out, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListByDoctorAndDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.DoctorID == doctorID && sameDay(a.Date, date)
	}), nil
}

func (r *MemoryRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *MemoryRepository) UpdateTransition(_ context.Context, next *Appointment, from Status, ev EventLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[next.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if current.Status != from {
		return nil, ErrStaleStatus
	}

	stored := *next
	r.items[stored.ID] = stored
	r.appendEvent(stored.ID, ev)

	out := stored
	return &out, nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, appointmentID uuid.UUID) ([]EventLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	evs := r.events[appointmentID]
	out := make([]EventLog, len(evs))
	copy(out, evs)
	return out, nil
}

func (r *MemoryRepository) appendEvent(id uuid.UUID, ev EventLog) {
	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.AppointmentID == nil {
		apptID := id
		ev.AppointmentID = &apptID
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events[id] = append(r.events[id], ev)
}

// filter returns matches ordered by date (newest first) then slot, like the
// Postgres listing queries.
func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.items {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]AvailabilityProfile
}

func NewMemoryProfileStore(profiles ...AvailabilityProfile) *MemoryProfileStore {
	s := &MemoryProfileStore{profiles: make(map[uuid.UUID]AvailabilityProfile)}
	for _, p := range profiles {
		s.profiles[p.DoctorID] = p
	}
	return s
}

func (s *MemoryProfileStore) GetProfile(_ context.Context, doctorID uuid.UUID) (*AvailabilityProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[doctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &p, nil
}

func (s *MemoryProfileStore) UpsertProfile(_ context.Context, p AvailabilityProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.DoctorID] = p
	return nil
}
