package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

// memRepo stamps CreatedAt when an insert completes. A gate registered for
// some content holds that insert until the gate is closed.
type memRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID][]uuid.UUID
	messages     []Message
	gates        map[string]chan struct{}
	tick         time.Time
	failWith     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		appointments: make(map[uuid.UUID][]uuid.UUID),
		gates:        make(map[string]chan struct{}),
		tick:         time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

func (r *memRepo) Insert(_ context.Context, m *Message) (*Message, error) {
	r.mu.Lock()
	gate := r.gates[m.Content]
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	if _, ok := r.appointments[m.AppointmentID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	r.tick = r.tick.Add(time.Millisecond)
	cp := *m
	cp.CreatedAt = r.tick
	// append order is deliberately not creation order
	r.messages = append([]Message{cp}, r.messages...)
	return &cp, nil
}

func (r *memRepo) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.AppointmentID == appointmentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) IsParticipant(_ context.Context, appointmentID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.appointments[appointmentID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func TestSend_Validation(t *testing.T) {
	appt := uuid.New()
	repo := newMemRepo()
	repo.appointments[appt] = nil
	svc := NewService(repo, zerolog.Nop())

	valid := SendInput{AppointmentID: appt.String(), SenderID: uuid.NewString(), SenderName: "Dr. Who", Content: "hello"}

	tests := []struct {
		name   string
		mutate func(*SendInput)
		kind   error
	}{
		{"bad appointment", func(in *SendInput) { in.AppointmentID = "x" }, apperr.ErrValidation},
		{"bad sender", func(in *SendInput) { in.SenderID = "" }, apperr.ErrValidation},
		{"blank content", func(in *SendInput) { in.Content = "   " }, apperr.ErrValidation},
		{"huge content", func(in *SendInput) { in.Content = strings.Repeat("a", maxContentLength+1) }, apperr.ErrValidation},
		{"no name", func(in *SendInput) { in.SenderName = "" }, apperr.ErrValidation},
		{"unknown appointment", func(in *SendInput) { in.AppointmentID = uuid.NewString() }, apperr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			if _, err := svc.Send(context.Background(), in); !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
		})
	}

	msg, err := svc.Send(context.Background(), valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == uuid.Nil || msg.CreatedAt.IsZero() {
		t.Errorf("expected store-assigned id and timestamp, got %+v", msg)
	}
}

func TestSend_StoreFailure(t *testing.T) {
	appt := uuid.New()
	repo := newMemRepo()
	repo.appointments[appt] = nil
	repo.failWith = errors.New("disk full")
	svc := NewService(repo, zerolog.Nop())

	_, err := svc.Send(context.Background(), SendInput{
		AppointmentID: appt.String(), SenderID: uuid.NewString(), SenderName: "P", Content: "hi",
	})
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestHistory_OrderedByPersistence(t *testing.T) {
	appt := uuid.New()
	patient := auth.Identity{ID: uuid.New(), Role: auth.RolePatient}
	repo := newMemRepo()
	repo.appointments[appt] = []uuid.UUID{patient.ID}
	gateA := make(chan struct{})
	repo.gates["A"] = gateA
	svc := NewService(repo, zerolog.Nop())

	send := func(content string) error {
		_, err := svc.Send(context.Background(), SendInput{
			AppointmentID: appt.String(), SenderID: patient.ID.String(), SenderName: "P", Content: content,
		})
		return err
	}

	doneA := make(chan error, 1)
	go func() { doneA <- send("A") }()

	// B is sent after A but its insert completes first
	if err := send("B"); err != nil {
		t.Fatalf("send B: %v", err)
	}
	close(gateA)
	if err := <-doneA; err != nil {
		t.Fatalf("send A: %v", err)
	}

	msgs, err := svc.History(context.Background(), patient, appt)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "B" || msgs[1].Content != "A" {
		t.Fatalf("expected [B A], got %+v", msgs)
	}
}

func TestHistory_RequiresParticipant(t *testing.T) {
	appt := uuid.New()
	repo := newMemRepo()
	repo.appointments[appt] = []uuid.UUID{uuid.New()}
	svc := NewService(repo, zerolog.Nop())

	stranger := auth.Identity{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := svc.History(context.Background(), stranger, appt); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHistory_EmptyIsNotNil(t *testing.T) {
	appt := uuid.New()
	doctor := auth.Identity{ID: uuid.New(), Role: auth.RoleDoctor}
	repo := newMemRepo()
	repo.appointments[appt] = []uuid.UUID{doctor.ID}
	svc := NewService(repo, zerolog.Nop())

	msgs, err := svc.History(context.Background(), doctor, appt)
	if err != nil || msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty slice, got %v, %v", msgs, err)
	}
}
