package realtime

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
)

// Transport delivers one payload to one room.
type Transport interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// Outbox accepts notifications for out-of-band delivery (email, SMS, push).
type Outbox interface {
	Push(ctx context.Context, msg []byte) error
}

func DoctorRoom(id uuid.UUID) string  { return "doctor:" + id.String() }
func PatientRoom(id uuid.UUID) string { return "patient:" + id.String() }

// Message is the payload pushed to rooms. Subscribers may see the same
// snapshot more than once and must treat it idempotently.
type Message struct {
	Type          string             `json:"type"`
	Room          string             `json:"room"`
	AppointmentID uuid.UUID          `json:"appointment_id"`
	DoctorID      uuid.UUID          `json:"doctor_id"`
	PatientID     uuid.UUID          `json:"patient_id"`
	Status        appointment.Status `json:"status"`
	Appointment   appointment.View   `json:"appointment"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// Notification is what the outbox carries: who to tell and about what.
type Notification struct {
	RecipientID   uuid.UUID        `json:"recipient_id"`
	RecipientRole appointment.Role `json:"recipient_role"`
	Type          string           `json:"type"`
	Appointment   appointment.View `json:"appointment"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Notifier observes committed changes and fans them out asynchronously.
// Events of one appointment always land on the same lane, so they are
// delivered in commit order; different appointments are not ordered.
type Notifier struct {
	log        *logrus.Logger
	transports []Transport
	outbox     Outbox
	lanes      []chan appointment.Event
	timeout    time.Duration
}

type NotifierOption func(*Notifier)

func WithOutbox(o Outbox) NotifierOption {
	return func(n *Notifier) { n.outbox = o }
}

func WithTransport(t Transport) NotifierOption {
	return func(n *Notifier) { n.transports = append(n.transports, t) }
}

func NewNotifier(log *logrus.Logger, lanes, buffer int, opts ...NotifierOption) *Notifier {
	if lanes < 1 {
		lanes = 1
	}
	if buffer < 1 {
		buffer = 1
	}

	n := &Notifier{
		log:     log,
		lanes:   make([]chan appointment.Event, lanes),
		timeout: 5 * time.Second,
	}
	for i := range n.lanes {
		n.lanes[i] = make(chan appointment.Event, buffer)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Publish queues ev and returns immediately. When the lane is full the event
// is dropped and counted; the change it describes is already committed.
func (n *Notifier) Publish(ev appointment.Event) {
	lane := n.lanes[n.laneFor(ev.Appointment.ID)]
	select {
	case lane <- ev:
		metrics.RealtimeEventsTotal.WithLabelValues("queued").Inc()
	default:
		metrics.RealtimeEventsTotal.WithLabelValues("dropped").Inc()
		n.log.WithFields(logrus.Fields{
			"event_type":     ev.Type,
			"appointment_id": ev.Appointment.ID,
		}).Warn("notifier lane full, dropping event")
	}
}

// Run drives every lane until ctx is cancelled, then flushes what is still
// queued.
func (n *Notifier) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, lane := range n.lanes {
		wg.Add(1)
		go func(lane chan appointment.Event) {
			defer wg.Done()
			n.drive(ctx, lane)
		}(lane)
	}
	wg.Wait()
	return nil
}

func (n *Notifier) drive(ctx context.Context, lane chan appointment.Event) {
	for {
		select {
		case <-ctx.Done():
			n.flush(lane)
			return
		case ev := <-lane:
			n.deliver(ctx, ev)
		}
	}
}

func (n *Notifier) flush(lane chan appointment.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	for {
		select {
		case ev := <-lane:
			n.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ev appointment.Event) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	a := ev.Appointment
	fields := logrus.Fields{"event_type": ev.Type, "appointment_id": a.ID}

	for _, room := range []string{DoctorRoom(a.DoctorID), PatientRoom(a.PatientID)} {
		payload, err := json.Marshal(Message{
			Type:          ev.Type,
			Room:          room,
			AppointmentID: a.ID,
			DoctorID:      a.DoctorID,
			PatientID:     a.PatientID,
			Status:        a.Status,
			Appointment:   a.View(),
			OccurredAt:    ev.OccurredAt,
		})
		if err != nil {
			n.log.WithFields(fields).WithError(err).Error("failed to marshal realtime message")
			continue
		}

		for _, t := range n.transports {
			if err := t.Publish(ctx, room, payload); err != nil {
				metrics.RealtimeEventsTotal.WithLabelValues("failed").Inc()
				n.log.WithFields(fields).WithField("room", room).WithError(err).Warn("realtime publish failed")
				continue
			}
			metrics.RealtimeEventsTotal.WithLabelValues("delivered").Inc()
		}
	}

	if n.outbox == nil {
		return
	}
	for _, note := range NotificationsFor(ev) {
		data, err := json.Marshal(note)
		if err != nil {
			n.log.WithFields(fields).WithError(err).Error("failed to marshal notification")
			continue
		}
		if err := n.outbox.Push(ctx, data); err != nil {
			n.log.WithFields(fields).WithError(err).Warn("failed to enqueue notification")
		}
	}
}

func (n *Notifier) laneFor(id uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int(h.Sum32() % uint32(len(n.lanes)))
}

// NotificationsFor decides who hears about ev outside the app: the doctor on
// new bookings and arrivals, the patient on the doctor's decisions, and the
// other party on a cancellation.
func NotificationsFor(ev appointment.Event) []Notification {
	a := ev.Appointment
	doctor := Notification{RecipientID: a.DoctorID, RecipientRole: appointment.RoleDoctor}
	patient := Notification{RecipientID: a.PatientID, RecipientRole: appointment.RolePatient}

	var out []Notification
	switch ev.Type {
	case appointment.EventAppointmentCreated, appointment.EventAppointmentCheckedIn:
		out = []Notification{doctor}
	case appointment.EventAppointmentConfirmed,
		appointment.EventAppointmentRejected,
		appointment.EventAppointmentStarted,
		appointment.EventAppointmentCompleted,
		appointment.EventAppointmentNoShow:
		out = []Notification{patient}
	case appointment.EventAppointmentCancelled:
		switch ev.Actor.Role {
		case appointment.RolePatient:
			out = []Notification{doctor}
		case appointment.RoleDoctor:
			out = []Notification{patient}
		default:
			out = []Notification{doctor, patient}
		}
	}

	view := a.View()
	for i := range out {
		out[i].Type = ev.Type
		out[i].Appointment = view
		out[i].CreatedAt = ev.OccurredAt
	}
	return out
}
