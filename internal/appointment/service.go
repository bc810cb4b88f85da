package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

// BookRequest is the input of Book. TimeSlot may be any accepted slot label.
type BookRequest struct {
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	Date             time.Time
	TimeSlot         string
	ConsultationType ConsultationType
	Symptoms         string
}

type Service struct {
	repo      Repository
	profiles  ProfileStore
	locker    redisclient.Locker
	publisher Publisher
	log       *logrus.Logger

	machine *Machine
	catalog Catalog
	loc     *time.Location
	retry   retryPolicy
	now     func() time.Time
	order   appointmentLocks
}

func NewService(repo Repository, profiles ProfileStore, locker redisclient.Locker, publisher Publisher, log *logrus.Logger, cfg config.Config) (*Service, error) {
	loc := cfg.Location()
	catalog, err := NewCatalog(cfg.SlotDuration, cfg.LunchStart, cfg.LunchEnd)
	if err != nil {
		return nil, fmt.Errorf("slot catalog: %w", err)
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Service{
		repo:      repo,
		profiles:  profiles,
		locker:    locker,
		publisher: publisher,
		log:       log,
		catalog:   catalog,
		loc:       loc,
		retry:     retryPolicy{attempts: cfg.StoreRetryAttempts, backoff: cfg.StoreRetryBackoff},
		now:       time.Now,
	}
	s.machine = NewMachine(loc, cfg.CancellationWindow, func() time.Time { return s.now() })
	return s, nil
}

// Location is the clinic time zone dates and slots are expressed in.
func (s *Service) Location() *time.Location { return s.loc }

// Today is the current calendar day in the clinic time zone.
func (s *Service) Today() time.Time { return CalendarDay(s.now().In(s.loc)) }

// Book reserves a slot for a patient. The Redis lock only narrows
// contention; the store's uniqueness rule decides which booking wins. When
// Redis cannot be reached the booking goes ahead without the lock.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	appt, err := s.book(ctx, actor, req)
	switch {
	case err == nil:
		metrics.BookingsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	case errors.Is(err, ErrSlotUnavailable):
		metrics.BookingsTotal.WithLabelValues(metrics.ResultConflict).Inc()
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		metrics.BookingsTotal.WithLabelValues(metrics.ResultRejected).Inc()
	default:
		metrics.BookingsTotal.WithLabelValues(metrics.ResultError).Inc()
	}
	return appt, err
}

func (s *Service) book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	if actor.Role == RolePatient {
		if req.PatientID == uuid.Nil {
			req.PatientID = actor.ID
		}
		if req.PatientID != actor.ID {
			return nil, &ForbiddenError{Actor: actor, Action: "book"}
		}
	} else if actor.Role != RoleAdmin {
		return nil, &ForbiddenError{Actor: actor, Action: "book"}
	}

	slot, err := validateBooking(req)
	if err != nil {
		return nil, err
	}
	date := CalendarDay(req.Date)

	profile, err := s.profiles.GetProfile(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	unavailable := func(reason string) error {
		return &SlotUnavailableError{DoctorID: req.DoctorID, Date: date, TimeSlot: slot.Label(), Reason: reason}
	}

	if !profile.WorksOn(date.Weekday()) {
		return nil, unavailable("doctor does not work on this day")
	}
	if !containsSlot(s.catalog.Slots(*profile), slot) {
		return nil, unavailable("slot is not offered")
	}
	if slot.On(date, s.loc).Before(s.now()) {
		return nil, unavailable("slot is in the past")
	}

	var created *Appointment
	id := uuid.New()
	lockKey := fmt.Sprintf("%s:%s:%d", req.DoctorID, FormatDate(date), int(slot))

	unlock := s.order.lock(id)
	defer unlock()

	reserve := func(lockCtx context.Context) error {
		existing, err := s.listByDoctorAndDate(lockCtx, req.DoctorID, date)
		if err != nil {
			return fmt.Errorf("load day schedule: %w", err)
		}
		free, ok := findSlot(ComputeAvailability(*profile, date, s.catalog, existing), slot)
		if !ok || !free.Available {
			return unavailable("slot already booked")
		}

		now := s.now()
		appt := &Appointment{
			ID:               id,
			PatientID:        req.PatientID,
			DoctorID:         req.DoctorID,
			Date:             date,
			Slot:             slot,
			ConsultationType: req.ConsultationType,
			Status:           StatusScheduled,
			Symptoms:         strings.TrimSpace(req.Symptoms),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		ev := s.eventLog(appt.ID, EventAppointmentCreated, actor, map[string]any{
			"doctor_id":  appt.DoctorID.String(),
			"patient_id": appt.PatientID.String(),
			"date":       FormatDate(date),
			"time_slot":  slot.Label(),
		}, now)

		return s.retry.do(lockCtx, func(ctx context.Context) error {
			out, err := s.repo.Insert(ctx, appt, ev)
			if err != nil {
				if IsTransient(err) {
					metrics.StoreRetriesTotal.Inc()
				}
				return err
			}
			created = out
			return nil
		})
	}

	err = s.locker.WithLock(ctx, lockKey, reserve)
	if errors.Is(err, redisclient.ErrLockUnavailable) {
		metrics.SlotLockFallbacksTotal.Inc()
		s.log.WithError(err).WithField("lock_key", lockKey).Warn("slot lock unavailable, booking without it")
		err = reserve(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, unavailable("slot is currently being booked")
		case errors.Is(err, ErrSlotTaken):
			return nil, unavailable("slot already booked")
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"appointment_id": created.ID,
		"doctor_id":      created.DoctorID,
		"patient_id":     created.PatientID,
		"date":           FormatDate(created.Date),
		"time_slot":      created.TimeSlot(),
	}).Info("appointment booked")

	s.publisher.Publish(Event{
		Type:        EventAppointmentCreated,
		Appointment: *created,
		Actor:       actor,
		OccurredAt:  created.CreatedAt,
	})
	return created, nil
}

func validateBooking(req BookRequest) (TimeOfDay, error) {
	if req.PatientID == uuid.Nil {
		return 0, &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if req.DoctorID == uuid.Nil {
		return 0, &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if req.Date.IsZero() {
		return 0, &ValidationError{Field: "date", Reason: "is required"}
	}
	if strings.TrimSpace(req.TimeSlot) == "" {
		return 0, &ValidationError{Field: "time_slot", Reason: "is required"}
	}
	slot, err := ParseTimeSlot(req.TimeSlot)
	if err != nil {
		return 0, &ValidationError{Field: "time_slot", Reason: err.Error()}
	}
	if !req.ConsultationType.Valid() {
		return 0, &ValidationError{Field: "consultation_type", Reason: fmt.Sprintf("must be %q or %q", ConsultationInPerson, ConsultationVideo)}
	}
	return slot, nil
}

func containsSlot(slots []TimeOfDay, t TimeOfDay) bool {
	for _, s := range slots {
		if s == t {
			return true
		}
	}
	return false
}

// Transitions

func (s *Service) Accept(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, Command{Action: ActionAccept, Actor: actor})
}

func (s *Service) Reject(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, Command{Action: ActionReject, Actor: actor, Reason: reason})
}

func (s *Service) CheckIn(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, Command{Action: ActionCheckIn, Actor: actor})
}

func (s *Service) Start(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, Command{Action: ActionStart, Actor: actor})
}

func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID, c Completion) (*Appointment, error) {
	return s.transition(ctx, id, Command{Action: ActionComplete, Actor: actor, Completion: &c})
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, Command{Action: ActionCancel, Actor: actor, Reason: reason})
}

func (s *Service) MarkNoShow(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, Command{Action: ActionNoShow, Actor: actor})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, cmd Command) (*Appointment, error) {
	updated, err := s.applyTransition(ctx, id, cmd)

	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrGuardFailed),
		errors.Is(err, ErrValidation), errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultError
	}
	metrics.TransitionsTotal.WithLabelValues(string(cmd.Action), result).Inc()

	return updated, err
}

func (s *Service) applyTransition(ctx context.Context, id uuid.UUID, cmd Command) (*Appointment, error) {
	unlock := s.order.lock(id)
	defer unlock()

	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := s.machine.Apply(*current, cmd)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"appointment_id": id,
			"action":         cmd.Action,
			"status":         current.Status,
		}).WithError(err).Debug("transition rejected")
		return nil, err
	}

	ev := s.eventLog(id, eventTypeFor(cmd.Action), cmd.Actor, map[string]any{
		"from":   string(current.Status),
		"to":     string(next.Status),
		"reason": cmd.Reason,
	}, next.UpdatedAt)

	var updated *Appointment
	err = s.retry.do(ctx, func(ctx context.Context) error {
		out, err := s.repo.UpdateTransition(ctx, &next, current.Status, ev)
		if err != nil {
			if IsTransient(err) {
				metrics.StoreRetriesTotal.Inc()
			}
			return err
		}
		updated = out
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			// Someone else moved the appointment first; report against the
			// status it holds now.
			latest, gerr := s.get(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			return nil, &TransitionError{
				From:   latest.Status,
				To:     next.Status,
				Action: cmd.Action,
				Reason: "appointment was updated concurrently",
			}
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"appointment_id": updated.ID,
		"action":         cmd.Action,
		"from":           current.Status,
		"to":             updated.Status,
		"actor_role":     cmd.Actor.Role,
	}).Info("appointment transitioned")

	s.publisher.Publish(Event{
		Type:        eventTypeFor(cmd.Action),
		Appointment: *updated,
		Actor:       cmd.Actor,
		OccurredAt:  updated.UpdatedAt,
	})
	return updated, nil
}

// Reads

// Get returns an appointment the actor takes part in.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, *appt) {
		return nil, &ForbiddenError{Actor: actor, Action: "view"}
	}
	return appt, nil
}

func (s *Service) ListForPatient(ctx context.Context, actor Actor, patientID uuid.UUID) ([]Appointment, error) {
	if actor.Role != RoleAdmin && !(actor.Role == RolePatient && actor.ID == patientID) {
		return nil, &ForbiddenError{Actor: actor, Action: "list appointments of"}
	}

	var out []Appointment
	err := s.retry.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.ListByPatient(ctx, patientID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return out, nil
}

// ListForDoctor lists a doctor's appointments, optionally for one day only.
func (s *Service) ListForDoctor(ctx context.Context, actor Actor, doctorID uuid.UUID, date *time.Time) ([]Appointment, error) {
	if !canActAsDoctor(actor, doctorID) {
		return nil, &ForbiddenError{Actor: actor, Action: "list appointments of"}
	}

	if date != nil {
		out, err := s.listByDoctorAndDate(ctx, doctorID, CalendarDay(*date))
		if err != nil {
			return nil, fmt.Errorf("list appointments by doctor: %w", err)
		}
		return out, nil
	}

	var out []Appointment
	err := s.retry.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.ListByDoctor(ctx, doctorID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return out, nil
}

// Availability computes the bookable slots of a doctor on date. Any
// authenticated caller may ask.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "is required"}
	}
	date = CalendarDay(date)

	profile, err := s.profiles.GetProfile(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !profile.WorksOn(date.Weekday()) {
		return []Slot{}, nil
	}

	existing, err := s.listByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load day schedule: %w", err)
	}
	return ComputeAvailability(*profile, date, s.catalog, existing), nil
}

// Queue is the live queue of a doctor for date, read straight from the store.
func (s *Service) Queue(ctx context.Context, actor Actor, doctorID uuid.UUID, date time.Time) ([]QueueEntry, error) {
	if !canActAsDoctor(actor, doctorID) {
		return nil, &ForbiddenError{Actor: actor, Action: "view the queue of"}
	}
	if date.IsZero() {
		date = s.Today()
	}
	date = CalendarDay(date)

	appts, err := s.listByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load day schedule: %w", err)
	}
	return ProjectQueue(appts, doctorID, date), nil
}

// Events returns the audit trail of one appointment.
func (s *Service) Events(ctx context.Context, actor Actor, id uuid.UUID) ([]EventLog, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	evs, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list appointment events: %w", err)
	}
	return evs, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	err := s.retry.do(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) listByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	var out []Appointment
	err := s.retry.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.ListByDoctorAndDate(ctx, doctorID, date)
		return err
	})
	return out, err
}

func (s *Service) eventLog(id uuid.UUID, eventType string, actor Actor, payload map[string]any, at time.Time) EventLog {
	payload["actor_id"] = actor.ID.String()
	payload["actor_role"] = string(actor.Role)

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).WithField("event_type", eventType).Warn("failed to marshal event payload")
		data = nil
	}

	apptID := id
	return EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     at,
	}
}

func canView(actor Actor, a Appointment) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RolePatient:
		return actor.ID == a.PatientID
	case RoleDoctor:
		return actor.ID == a.DoctorID
	}
	return false
}

func canActAsDoctor(actor Actor, doctorID uuid.UUID) bool {
	return actor.Role == RoleAdmin || (actor.Role == RoleDoctor && actor.ID == doctorID)
}
