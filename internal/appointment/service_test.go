package appointment

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/caltime"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

// memRepo is an in-memory Repository that enforces the scheduled-slot
// uniqueness the Postgres index provides.
type memRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
	calls        int
	failWith     error
}

func newMemRepo(doctors ...uuid.UUID) *memRepo {
	r := &memRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		appointments: make(map[uuid.UUID]*Appointment),
	}
	for _, id := range doctors {
		r.doctors[id] = &Doctor{ID: id, FirstName: "Ada", LastName: "Lovelace"}
	}
	return r
}

func (r *memRepo) touch() error {
	r.calls++
	return r.failWith
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return nil, err
	}
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (r *memRepo) scheduledLocked(doctorID uuid.UUID, date caltime.Date, at caltime.Clock) *Appointment {
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Time == at && a.Status == StatusScheduled {
			return a
		}
	}
	return nil
}

func (r *memRepo) FindScheduled(_ context.Context, doctorID uuid.UUID, date caltime.Date, at caltime.Clock) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return nil, err
	}
	if a := r.scheduledLocked(doctorID, date, at); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) Insert(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return nil, err
	}
	if r.scheduledLocked(a.DoctorID, a.Date, a.Time) != nil {
		return nil, ErrSlotAlreadyBooked
	}
	cp := *a
	cp.Status = StatusScheduled
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return nil, err
	}
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Appointment: *a, Doctor: Party{FirstName: "Ada", LastName: "Lovelace"}}, nil
}

func (r *memRepo) ListFor(_ context.Context, userID uuid.UUID, role auth.Role, filter ListFilter) ([]Detail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return nil, err
	}
	var out []Detail
	for _, a := range r.appointments {
		owner := a.PatientID
		if role == auth.RoleDoctor {
			owner = a.DoctorID
		}
		if owner != userID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Date != nil && a.Date != *filter.Date {
			continue
		}
		out = append(out, Detail{Appointment: *a})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time.String() < out[j].Time.String()
	})
	return out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (r *memRepo) SetVideoLink(_ context.Context, id uuid.UUID, link string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Type == TypeVideo && a.VideoCallLink == nil {
		a.VideoCallLink = &link
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) scheduledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appointments {
		if a.Status == StatusScheduled {
			n++
		}
	}
	return n
}

// keyLocker serialises callers per key, like a Redis lock that waits.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  []string
}

func (l *keyLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// stubLocker returns err without running fn, or runs fn unguarded when err is nil.
type stubLocker struct{ err error }

func (l stubLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func testConfig() config.Config {
	return config.Config{VideoLinkBaseURL: "https://meet.connectcare.com", Location: time.UTC}
}

func newTestService(repo Repository, locker redisclient.Locker) *Service {
	return NewService(repo, locker, testConfig(), zerolog.Nop())
}

func patient() auth.Identity {
	return auth.Identity{ID: uuid.New(), Role: auth.RolePatient}
}

func bookReq(doctorID uuid.UUID) BookRequest {
	return BookRequest{
		DoctorID:        doctorID.String(),
		AppointmentDate: "2024-03-01",
		AppointmentTime: "14:00",
		AppointmentType: "video",
		Reason:          "follow-up",
	}
}

func TestBook_ValidationBeforeStoreAccess(t *testing.T) {
	doctorID := uuid.New()

	tests := []struct {
		name   string
		mutate func(*BookRequest)
	}{
		{"empty doctor", func(r *BookRequest) { r.DoctorID = "" }},
		{"malformed doctor", func(r *BookRequest) { r.DoctorID = "doc-1" }},
		{"slashed date", func(r *BookRequest) { r.AppointmentDate = "10/10/2023" }},
		{"impossible date", func(r *BookRequest) { r.AppointmentDate = "2024-02-30" }},
		{"bad time", func(r *BookRequest) { r.AppointmentTime = "2pm" }},
		{"hour out of range", func(r *BookRequest) { r.AppointmentTime = "25:00" }},
		{"unknown type", func(r *BookRequest) { r.AppointmentType = "phone" }},
		{"long reason", func(r *BookRequest) { r.Reason = strings.Repeat("x", maxReasonLength+1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo(doctorID)
			svc := newTestService(repo, &keyLocker{})

			req := bookReq(doctorID)
			tt.mutate(&req)

			_, err := svc.Book(context.Background(), patient(), req)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if repo.calls != 0 {
				t.Fatalf("expected no store access, got %d calls", repo.calls)
			}
		})
	}
}

func TestBook_RequiresPatient(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(newMemRepo(doctorID), &keyLocker{})

	doctor := auth.Identity{ID: uuid.New(), Role: auth.RoleDoctor}
	_, err := svc.Book(context.Background(), doctor, bookReq(doctorID))
	if !errors.Is(err, ErrPatientsOnly) || !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrPatientsOnly, got %v", err)
	}
}

func TestBook_UnknownDoctor(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &keyLocker{})

	_, err := svc.Book(context.Background(), patient(), bookReq(uuid.New()))
	if !errors.Is(err, ErrDoctorNotFound) || !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected doctor not found, got %v", err)
	}
	if n := repo.scheduledCount(); n != 0 {
		t.Fatalf("expected no rows inserted, got %d", n)
	}
}

func TestBook_StoreFailureIsUnavailable(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo(doctorID)
	repo.failWith = errors.New("connection reset by peer")
	svc := newTestService(repo, &keyLocker{})

	_, err := svc.Book(context.Background(), patient(), bookReq(doctorID))
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestBook_CanonicalisesTimeAndType(t *testing.T) {
	doctorID := uuid.New()
	locker := &keyLocker{}
	svc := newTestService(newMemRepo(doctorID), locker)

	req := bookReq(doctorID)
	req.AppointmentType = `'in_person'::appointment_type`
	appt, err := svc.Book(context.Background(), patient(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Type != TypeInPerson {
		t.Errorf("expected in-person, got %q", appt.Type)
	}
	if appt.Time.String() != "14:00:00" {
		t.Errorf("expected canonical time 14:00:00, got %s", appt.Time)
	}
	if appt.VideoCallLink != nil {
		t.Errorf("expected no video link on booking")
	}

	want := "lock:slot:" + doctorID.String() + ":2024-03-01:14:00:00"
	if len(locker.keys) != 1 || locker.keys[0] != want {
		t.Errorf("expected lock key %s, got %v", want, locker.keys)
	}

	// HH:MM:SS form of the same slot collides
	req.AppointmentTime = "14:00:00"
	if _, err := svc.Book(context.Background(), patient(), req); !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected slot conflict, got %v", err)
	}
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	lockers := map[string]redisclient.Locker{
		"with lock":         &keyLocker{},
		"lock backend down": stubLocker{err: redisclient.ErrLockUnavailable},
		"unguarded":         stubLocker{},
	}

	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			doctorID := uuid.New()
			repo := newMemRepo(doctorID)
			svc := newTestService(repo, locker)

			const n = 20
			var wg sync.WaitGroup
			errs := make([]error, n)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = svc.Book(context.Background(), patient(), bookReq(doctorID))
				}(i)
			}
			close(start)
			wg.Wait()

			successes, conflicts := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					successes++
				case errors.Is(err, apperr.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
			if successes != 1 || conflicts != n-1 {
				t.Fatalf("expected 1 success and %d conflicts, got %d and %d", n-1, successes, conflicts)
			}
			if got := repo.scheduledCount(); got != 1 {
				t.Fatalf("expected exactly one scheduled row, got %d", got)
			}
		})
	}
}

func TestBook_LockContentionIsConflict(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(newMemRepo(doctorID), stubLocker{err: redisclient.ErrLockNotAcquired})

	_, err := svc.Book(context.Background(), patient(), bookReq(doctorID))
	if !errors.Is(err, ErrSlotBeingBooked) || !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrSlotBeingBooked, got %v", err)
	}
}

func TestBook_EndToEndWithVideoLink(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo(doctorID)
	svc := newTestService(repo, &keyLocker{})
	ctx := context.Background()

	first := patient()
	appt, err := svc.Book(ctx, first, bookReq(doctorID))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != StatusScheduled || appt.VideoCallLink != nil {
		t.Fatalf("expected scheduled without link, got %+v", appt)
	}

	doctor := auth.Identity{ID: doctorID, Role: auth.RoleDoctor}
	linked, err := svc.GenerateVideoLink(ctx, doctor, appt.ID)
	if err != nil {
		t.Fatalf("generate link: %v", err)
	}
	if linked.VideoCallLink == nil || !strings.Contains(*linked.VideoCallLink, appt.ID.String()) {
		t.Fatalf("expected link containing %s, got %v", appt.ID, linked.VideoCallLink)
	}

	again, err := svc.GenerateVideoLink(ctx, first, appt.ID)
	if err != nil || *again.VideoCallLink != *linked.VideoCallLink {
		t.Fatalf("expected stored link to be returned, got %v, %v", again, err)
	}

	if _, err := svc.Book(ctx, patient(), bookReq(doctorID)); !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected conflict for second patient, got %v", err)
	}

	png, err := svc.VideoLinkQR(ctx, first, appt.ID, 0)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("expected PNG output")
	}

	var booked, linkedEvents int
	for _, ev := range repo.events {
		switch ev.EventType {
		case EventAppointmentBooked:
			booked++
		case EventVideoLinkGenerated:
			linkedEvents++
		}
	}
	if booked != 1 || linkedEvents != 1 {
		t.Errorf("expected 1 booked and 1 link event, got %d and %d", booked, linkedEvents)
	}
}

func TestGenerateVideoLink_Rules(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(newMemRepo(doctorID), &keyLocker{})
	ctx := context.Background()

	p := patient()
	req := bookReq(doctorID)
	req.AppointmentType = "in-person"
	appt, err := svc.Book(ctx, p, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := svc.GenerateVideoLink(ctx, p, appt.ID); !errors.Is(err, ErrNotVideoAppointment) {
		t.Errorf("expected not-video error, got %v", err)
	}
	if _, err := svc.GenerateVideoLink(ctx, patient(), appt.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected stranger to see not found, got %v", err)
	}
	if _, err := svc.VideoLinkQR(ctx, p, appt.ID, 128); !errors.Is(err, ErrVideoLinkNotFound) {
		t.Errorf("expected missing link, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(newMemRepo(doctorID), &keyLocker{})
	ctx := context.Background()

	p := patient()
	appt, err := svc.Book(ctx, p, bookReq(doctorID))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, p, appt.ID, "scheduled"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, patient(), appt.ID, "cancelled"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found for stranger, got %v", err)
	}

	updated, err := svc.UpdateStatus(ctx, p, appt.ID, "Cancelled")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}

	doctor := auth.Identity{ID: doctorID, Role: auth.RoleDoctor}
	if _, err := svc.UpdateStatus(ctx, doctor, appt.ID, "completed"); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("expected terminal state, got %v", err)
	}

	// the slot is free again once the booking is cancelled
	if _, err := svc.Book(ctx, patient(), bookReq(doctorID)); err != nil {
		t.Errorf("expected rebooking to succeed, got %v", err)
	}
}

func TestGetAndList(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(newMemRepo(doctorID), &keyLocker{})
	ctx := context.Background()

	p := patient()
	late := bookReq(doctorID)
	late.AppointmentTime = "16:30"
	early := bookReq(doctorID)
	early.AppointmentTime = "09:00"
	for _, req := range []BookRequest{late, early} {
		if _, err := svc.Book(ctx, p, req); err != nil {
			t.Fatalf("book: %v", err)
		}
	}

	list, err := svc.List(ctx, p, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Time.HHMM() != "09:00" {
		t.Fatalf("expected two appointments ordered by time, got %+v", list)
	}

	if _, err := svc.Get(ctx, patient(), list[0].ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found for stranger, got %v", err)
	}
	got, err := svc.Get(ctx, auth.Identity{ID: doctorID, Role: auth.RoleDoctor}, list[0].ID)
	if err != nil || got.Doctor.LastName != "Lovelace" {
		t.Errorf("expected doctor to read detail, got %+v, %v", got, err)
	}

	other, err := svc.List(ctx, patient(), ListFilter{})
	if err != nil || other == nil || len(other) != 0 {
		t.Errorf("expected empty non-nil list, got %v, %v", other, err)
	}

	admin := auth.Identity{ID: uuid.New(), Role: auth.RoleAdmin}
	if _, err := svc.List(ctx, admin, ListFilter{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden for admin, got %v", err)
	}
}

func TestParseListFilter(t *testing.T) {
	f, err := ParseListFilter("Scheduled", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Status == nil || *f.Status != StatusScheduled || f.Date == nil || f.Date.String() != "2024-03-01" {
		t.Errorf("unexpected filter %+v", f)
	}

	if _, err := ParseListFilter("pending", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for status, got %v", err)
	}
	if _, err := ParseListFilter("", "03/01/2024"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for date, got %v", err)
	}
}

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		ok   bool
	}{
		{"video", TypeVideo, true},
		{" Video ", TypeVideo, true},
		{`"video"`, TypeVideo, true},
		{"{video}", TypeVideo, true},
		{"'video'::appointment_type", TypeVideo, true},
		{"in-person", TypeInPerson, true},
		{"IN_PERSON", TypeInPerson, true},
		{"In Person", TypeInPerson, true},
		{"[in-person]", TypeInPerson, true},
		{"", "", false},
		{"phone", "", false},
		{"video-call", "", false},
	}

	for _, tt := range tests {
		got, err := NormalizeType(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("NormalizeType(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
		if !tt.ok && !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("NormalizeType(%q) expected validation error, got %q, %v", tt.in, got, err)
		}
	}
}
