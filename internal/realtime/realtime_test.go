package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
)

type sent struct {
	room    string
	payload []byte
}

type recordingTransport struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (t *recordingTransport) Publish(_ context.Context, room string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.msgs = append(t.msgs, sent{room: room, payload: payload})
	return nil
}

func (t *recordingTransport) messages(room string) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Message
	for _, m := range t.msgs {
		if m.room != room {
			continue
		}
		var msg Message
		if err := json.Unmarshal(m.payload, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

type recordingOutbox struct {
	mu    sync.Mutex
	items []Notification
}

func (o *recordingOutbox) Push(_ context.Context, msg []byte) error {
	var n Notification
	if err := json.Unmarshal(msg, &n); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, n)
	return nil
}

func sampleEvent(eventType string, status appointment.Status) appointment.Event {
	return appointment.Event{
		Type: eventType,
		Appointment: appointment.Appointment{
			ID:        uuid.New(),
			PatientID: uuid.New(),
			DoctorID:  uuid.New(),
			Date:      time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			Slot:      600,
			Status:    status,
		},
		OccurredAt: time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC),
	}
}

func TestHub_RoomsAndBroadcast(t *testing.T) {
	hub := NewHub()
	doctor := &Client{ID: "d", Rooms: []string{"doctor:1"}, Send: make(chan []byte, 4)}
	patient := &Client{ID: "p", Rooms: []string{"patient:1"}, Send: make(chan []byte, 4)}

	hub.Register(doctor)
	hub.Register(patient)
	assert.Equal(t, 2, hub.ClientCount())
	assert.Equal(t, 1, hub.RoomCount("doctor:1"))

	assert.Equal(t, 1, hub.Broadcast("doctor:1", []byte("hello")))
	assert.Equal(t, []byte("hello"), <-doctor.Send)
	assert.Empty(t, patient.Send)

	hub.Subscribe(patient, []string{"doctor:1", "doctor:1"})
	assert.Equal(t, 2, hub.RoomCount("doctor:1"))
	assert.Equal(t, []string{"patient:1", "doctor:1"}, patient.Rooms)

	hub.Unsubscribe(patient, []string{"doctor:1"})
	assert.Equal(t, 1, hub.RoomCount("doctor:1"))
	assert.Equal(t, []string{"patient:1"}, patient.Rooms)

	hub.Unregister(doctor)
	hub.Unregister(doctor)
	assert.Equal(t, 0, hub.RoomCount("doctor:1"))
	assert.Equal(t, 1, hub.ClientCount())
	_, open := <-doctor.Send
	assert.False(t, open)
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub()
	slow := &Client{ID: "slow", Rooms: []string{"r"}, Send: make(chan []byte, 1)}
	hub.Register(slow)

	assert.Equal(t, 1, hub.Broadcast("r", []byte("1")))
	assert.Equal(t, 0, hub.Broadcast("r", []byte("2")))
}

func TestNotifier_DeliversToBothRooms(t *testing.T) {
	transport := &recordingTransport{}
	outbox := &recordingOutbox{}
	n := NewNotifier(logging.Discard(), 2, 8, WithTransport(transport), WithOutbox(outbox))

	ev := sampleEvent(appointment.EventAppointmentCreated, appointment.StatusScheduled)
	n.Publish(ev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, n.Run(ctx))

	a := ev.Appointment
	doctorMsgs := transport.messages(DoctorRoom(a.DoctorID))
	require.Len(t, doctorMsgs, 1)
	assert.Equal(t, appointment.EventAppointmentCreated, doctorMsgs[0].Type)
	assert.Equal(t, a.ID, doctorMsgs[0].AppointmentID)
	assert.Equal(t, "10:00 AM", doctorMsgs[0].Appointment.TimeSlot)
	assert.Equal(t, "2025-06-10", doctorMsgs[0].Appointment.Date)

	assert.Len(t, transport.messages(PatientRoom(a.PatientID)), 1)

	require.Len(t, outbox.items, 1)
	assert.Equal(t, a.DoctorID, outbox.items[0].RecipientID)
	assert.Equal(t, appointment.RoleDoctor, outbox.items[0].RecipientRole)
}

func TestNotifier_DropsWhenLaneFull(t *testing.T) {
	transport := &recordingTransport{}
	n := NewNotifier(logging.Discard(), 1, 1, WithTransport(transport))

	first := sampleEvent(appointment.EventAppointmentCreated, appointment.StatusScheduled)
	second := sampleEvent(appointment.EventAppointmentCreated, appointment.StatusScheduled)

	done := make(chan struct{})
	go func() {
		n.Publish(first)
		n.Publish(second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full lane")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, n.Run(ctx))

	assert.Len(t, transport.messages(DoctorRoom(first.Appointment.DoctorID)), 1)
	assert.Empty(t, transport.messages(DoctorRoom(second.Appointment.DoctorID)))
}

func TestNotifier_TransportFailureIsContained(t *testing.T) {
	broken := &recordingTransport{err: errors.New("redis down")}
	working := &recordingTransport{}
	n := NewNotifier(logging.Discard(), 1, 4, WithTransport(broken), WithTransport(working))

	n.Publish(sampleEvent(appointment.EventAppointmentConfirmed, appointment.StatusConfirmed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, n.Run(ctx))

	assert.Equal(t, 2, working.count())
}

func TestNotifier_PreservesPerAppointmentOrder(t *testing.T) {
	transport := &recordingTransport{}
	n := NewNotifier(logging.Discard(), 4, 256, WithTransport(transport))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(runDone)
	}()

	base := sampleEvent(appointment.EventAppointmentCreated, appointment.StatusScheduled)
	other := sampleEvent(appointment.EventAppointmentCreated, appointment.StatusScheduled)
	statuses := []appointment.Status{
		appointment.StatusScheduled,
		appointment.StatusConfirmed,
		appointment.StatusCheckedIn,
		appointment.StatusInProgress,
		appointment.StatusCompleted,
	}
	for i := 0; i < 20; i++ {
		ev := base
		ev.Appointment.Status = statuses[i%len(statuses)]
		ev.Appointment.Symptoms = string(rune('a' + i))
		n.Publish(ev)
		n.Publish(other)
	}

	require.Eventually(t, func() bool { return transport.count() == 80 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-runDone

	msgs := transport.messages(DoctorRoom(base.Appointment.DoctorID))
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.Equal(t, string(rune('a'+i)), m.Appointment.Symptoms)
	}
}

func TestNotificationsFor(t *testing.T) {
	tests := []struct {
		eventType string
		actor     appointment.Role
		want      []appointment.Role
	}{
		{appointment.EventAppointmentCreated, appointment.RolePatient, []appointment.Role{appointment.RoleDoctor}},
		{appointment.EventAppointmentConfirmed, appointment.RoleDoctor, []appointment.Role{appointment.RolePatient}},
		{appointment.EventAppointmentRejected, appointment.RoleDoctor, []appointment.Role{appointment.RolePatient}},
		{appointment.EventAppointmentCheckedIn, appointment.RolePatient, []appointment.Role{appointment.RoleDoctor}},
		{appointment.EventAppointmentCompleted, appointment.RoleDoctor, []appointment.Role{appointment.RolePatient}},
		{appointment.EventAppointmentNoShow, appointment.RoleDoctor, []appointment.Role{appointment.RolePatient}},
		{appointment.EventAppointmentCancelled, appointment.RolePatient, []appointment.Role{appointment.RoleDoctor}},
		{appointment.EventAppointmentCancelled, appointment.RoleDoctor, []appointment.Role{appointment.RolePatient}},
		{appointment.EventAppointmentCancelled, appointment.RoleAdmin, []appointment.Role{appointment.RoleDoctor, appointment.RolePatient}},
	}

	for _, tt := range tests {
		t.Run(tt.eventType+"/"+string(tt.actor), func(t *testing.T) {
			ev := sampleEvent(tt.eventType, appointment.StatusScheduled)
			ev.Actor = appointment.Actor{ID: uuid.New(), Role: tt.actor}

			notes := NotificationsFor(ev)
			var got []appointment.Role
			for _, n := range notes {
				got = append(got, n.RecipientRole)
				assert.Equal(t, tt.eventType, n.Type)
				if n.RecipientRole == appointment.RoleDoctor {
					assert.Equal(t, ev.Appointment.DoctorID, n.RecipientID)
				} else {
					assert.Equal(t, ev.Appointment.PatientID, n.RecipientID)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

type scriptedSubscriber struct {
	mu    sync.Mutex
	calls int
}

func (s *scriptedSubscriber) Subscribe(ctx context.Context, fn func(room string, payload []byte)) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if call == 1 {
		return errors.New("connection reset")
	}
	fn("doctor:1", []byte("update"))
	<-ctx.Done()
	return nil
}

func TestBridge_ResubscribesAndForwards(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "c", Rooms: []string{"doctor:1"}, Send: make(chan []byte, 1)}
	hub.Register(client)

	sub := &scriptedSubscriber{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Bridge(ctx, sub, hub, logging.Discard()) }()

	select {
	case msg := <-client.Send:
		assert.Equal(t, []byte("update"), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not forward the message")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestCanJoin(t *testing.T) {
	doctor := auth.Session{UserID: uuid.New(), Role: auth.RoleDoctor}
	admin := auth.Session{UserID: uuid.New(), Role: auth.RoleAdmin}
	someone := "patient:" + uuid.NewString()

	assert.True(t, CanJoin(doctor, doctor.Room()))
	assert.False(t, CanJoin(doctor, someone))
	assert.True(t, CanJoin(admin, someone))
	assert.False(t, CanJoin(admin, "lobby"))
	assert.False(t, CanJoin(admin, "doctor:not-an-id"))
}

func TestHandler_WebsocketFlow(t *testing.T) {
	verifier := auth.NewVerifier("secret", "")
	hub := NewHub()
	srv := httptest.NewServer(auth.Middleware(verifier)(NewHandler(hub, logging.Discard())))
	defer srv.Close()

	doctor := auth.Session{UserID: uuid.New(), Role: auth.RoleDoctor}
	token, err := verifier.Issue(doctor, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.RoomCount(doctor.Room()) == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(doctor.Room(), []byte(`{"type":"appointment.created"}`))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"appointment.created"}`, string(data))

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", Rooms: []string{"patient:" + uuid.NewString()}}))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "room not permitted", reply.Error)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "unsubscribe", Rooms: []string{doctor.Room()}}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "unsubscribed", reply.Type)
	assert.Equal(t, 0, hub.RoomCount(doctor.Room()))
}

func TestHandler_RejectsAnonymous(t *testing.T) {
	verifier := auth.NewVerifier("secret", "")
	srv := httptest.NewServer(auth.Middleware(verifier)(NewHandler(NewHub(), logging.Discard())))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
