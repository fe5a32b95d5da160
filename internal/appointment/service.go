package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/caltime"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventVideoLinkGenerated       = "VIDEO_LINK_GENERATED"
)

const (
	maxReasonLength = 2000
	defaultQRSize   = 256
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "appointment").Logger(),
	}
}

// Book validates a booking request, checks the doctor exists and that the
// (doctor, date, time) slot is free, then inserts a scheduled appointment.
// The check and the insert run under a per-slot Redis lock; the partial
// unique index on appointments settles any race the lock misses.
func (s *Service) Book(ctx context.Context, patient auth.Identity, req BookRequest) (*Appointment, error) {
	if !patient.IsPatient() {
		return nil, ErrPatientsOnly
	}

	doctorID, err := uuid.Parse(strings.TrimSpace(req.DoctorID))
	if err != nil {
		return nil, apperr.Validationf("doctorId must be a valid identifier")
	}
	date, err := caltime.ParseDate(strings.TrimSpace(req.AppointmentDate))
	if err != nil {
		return nil, apperr.Validationf("appointmentDate: %v", err)
	}
	at, err := caltime.ParseClock(strings.TrimSpace(req.AppointmentTime))
	if err != nil {
		return nil, apperr.Validationf("appointmentTime: %v", err)
	}
	typ, err := NormalizeType(req.AppointmentType)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) > maxReasonLength {
		return nil, apperr.Validationf("reason must be at most %d characters", maxReasonLength)
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, s.unavailable("load doctor", err)
	}

	candidate := &Appointment{
		ID:        uuid.New(),
		PatientID: patient.ID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      at,
		Type:      typ,
		Reason:    reason,
		Status:    StatusScheduled,
	}

	var created *Appointment
	book := func(lockCtx context.Context) error {
		existing, err := s.repo.FindScheduled(lockCtx, doctorID, date, at)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return s.unavailable("check slot", err)
		}
		if existing != nil {
			return ErrSlotAlreadyBooked
		}

		appt, err := s.repo.Insert(lockCtx, candidate)
		if err != nil {
			if apperr.Kind(err) != nil {
				return err
			}
			return s.unavailable("insert appointment", err)
		}
		created = appt
		return nil
	}

	key := redisclient.SlotKey(doctorID.String(), date.String(), at.String())
	err = s.locker.WithSlotLock(ctx, key, book)
	if errors.Is(err, redisclient.ErrLockUnavailable) {
		s.log.Warn().Err(err).Str("slot", key).Msg("booking without slot lock")
		err = book(ctx)
	}
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		if apperr.Kind(err) == nil {
			return nil, s.unavailable("book appointment", err)
		}
		s.log.Debug().Err(err).Str("slot", key).Msg("booking rejected")
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"patient_id":       created.PatientID.String(),
		"doctor_id":        created.DoctorID.String(),
		"appointment_date": created.Date.String(),
		"appointment_time": created.Time.String(),
		"appointment_type": created.Type,
	})

	return created, nil
}

// NormalizeType strips enum decoration clients sometimes send, such as
// `'video'::appointment_type`, `{video}` or `"In Person"`, and maps the
// result onto one of the two appointment types.
func NormalizeType(raw string) (Type, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "::"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "'\"`{}[]() ")
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)

	switch Type(s) {
	case TypeVideo, TypeInPerson:
		return Type(s), nil
	}
	return "", apperr.Validationf("appointmentType must be one of video, in-person")
}

// Get returns an appointment with the names of both parties. Callers who are
// not a party to it get ErrAppointmentNotFound.
func (s *Service) Get(ctx context.Context, requester auth.Identity, id uuid.UUID) (*Detail, error) {
	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, s.unavailable("get appointment", err)
	}
	if !detail.IsParticipant(requester.ID) {
		return nil, ErrAppointmentNotFound
	}
	return detail, nil
}

// ParseListFilter validates the optional status and date query values.
func ParseListFilter(status, date string) (ListFilter, error) {
	var f ListFilter
	if status != "" {
		st := Status(strings.ToLower(strings.TrimSpace(status)))
		switch st {
		case StatusScheduled, StatusCompleted, StatusCancelled:
			f.Status = &st
		default:
			return ListFilter{}, apperr.Validationf("status must be one of scheduled, completed, cancelled")
		}
	}
	if date != "" {
		d, err := caltime.ParseDate(strings.TrimSpace(date))
		if err != nil {
			return ListFilter{}, apperr.Validationf("date: %v", err)
		}
		f.Date = &d
	}
	return f, nil
}

// List returns the requester's appointments ordered by date and time.
func (s *Service) List(ctx context.Context, requester auth.Identity, filter ListFilter) ([]Detail, error) {
	if !requester.IsPatient() && !requester.IsDoctor() {
		return nil, ErrNoAppointments
	}

	list, err := s.repo.ListFor(ctx, requester.ID, requester.Role, filter)
	if err != nil {
		return nil, s.unavailable("list appointments", err)
	}
	if list == nil {
		list = []Detail{}
	}
	return list, nil
}

// UpdateStatus completes or cancels a scheduled appointment. Both are
// terminal.
func (s *Service) UpdateStatus(ctx context.Context, requester auth.Identity, id uuid.UUID, status string) (*Appointment, error) {
	to := Status(strings.ToLower(strings.TrimSpace(status)))
	if to != StatusCompleted && to != StatusCancelled {
		return nil, apperr.Validationf("status must be one of completed, cancelled")
	}

	appt, err := s.loadOwned(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusScheduled, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// lost a race with another transition
			return nil, ErrInvalidStatusTransition
		}
		return nil, s.unavailable("update appointment status", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from":       StatusScheduled,
		"to":         to,
		"changed_by": requester.ID.String(),
	})

	return updated, nil
}

// GenerateVideoLink sets the video call link of a video appointment. The
// link is written once; later calls return the stored one.
func (s *Service) GenerateVideoLink(ctx context.Context, requester auth.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.loadOwned(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if appt.Type != TypeVideo {
		return nil, ErrNotVideoAppointment
	}
	if appt.VideoCallLink != nil {
		return appt, nil
	}

	link := s.cfg.VideoLinkBaseURL + "/" + appt.ID.String()
	updated, err := s.repo.SetVideoLink(ctx, id, link)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, s.unavailable("set video link", err)
	}

	s.logEvent(ctx, updated.ID, EventVideoLinkGenerated, map[string]any{
		"link":         *updated.VideoCallLink,
		"generated_by": requester.ID.String(),
	})

	return updated, nil
}

// VideoLinkQR renders the stored video link as a PNG QR code of size pixels.
func (s *Service) VideoLinkQR(ctx context.Context, requester auth.Identity, id uuid.UUID, size int) ([]byte, error) {
	appt, err := s.loadOwned(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if appt.VideoCallLink == nil {
		return nil, ErrVideoLinkNotFound
	}
	if size <= 0 {
		size = defaultQRSize
	}

	png, err := qrcode.Encode(*appt.VideoCallLink, qrcode.Medium, size)
	if err != nil {
		return nil, apperr.Validationf("encode qr code: %v", err)
	}
	return png, nil
}

// loadOwned fetches an appointment the requester is a party to.
func (s *Service) loadOwned(ctx context.Context, requester auth.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, s.unavailable("load appointment", err)
	}
	if !appt.IsParticipant(requester.ID) {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

func (s *Service) unavailable(op string, err error) error {
	s.log.Error().Err(err).Str("op", op).Msg("store failure")
	return apperr.Unavailable(op, err)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log")
	}
}
