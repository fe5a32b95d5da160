package availability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/caltime"
)

type Service struct {
	repo Repository
	loc  *time.Location
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo: repo,
		loc:  loc,
		log:  log.With().Str("component", "availability").Logger(),
		now:  time.Now,
	}
}

// AddSlot declares a bookable window for the calling doctor. The window must
// be non-empty and must not start in the past.
func (s *Service) AddSlot(ctx context.Context, doctor auth.Identity, start, end time.Time) (*Slot, error) {
	if !doctor.IsDoctor() {
		return nil, ErrDoctorsOnly
	}
	if start.IsZero() || end.IsZero() {
		return nil, apperr.Validationf("startTime and endTime are required")
	}
	if !end.After(start) {
		return nil, apperr.Validationf("endTime must be after startTime")
	}
	if start.Before(s.now()) {
		return nil, apperr.Validationf("cannot add availability in the past")
	}

	slot, err := s.repo.Insert(ctx, &Slot{
		ID:        uuid.New(),
		DoctorID:  doctor.ID,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, s.unavailable("insert availability slot", err)
	}

	s.log.Info().
		Str("slot_id", slot.ID.String()).
		Str("doctor_id", doctor.ID.String()).
		Time("start", slot.StartTime).
		Msg("availability added")
	return slot, nil
}

// RemoveSlot deletes one of the calling doctor's slots.
func (s *Service) RemoveSlot(ctx context.Context, doctor auth.Identity, id uuid.UUID) error {
	if !doctor.IsDoctor() {
		return ErrDoctorsOnly
	}

	slot, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return err
		}
		return s.unavailable("load availability slot", err)
	}
	if slot.DoctorID != doctor.ID {
		return ErrNotSlotOwner
	}

	removed, err := s.repo.Delete(ctx, id, doctor.ID)
	if err != nil {
		return s.unavailable("delete availability slot", err)
	}
	if !removed {
		return ErrSlotNotFound
	}
	return nil
}

// GetSlots lists a doctor's slots inside the range with each slot's booked
// flag. startDate and endDate are YYYY-MM-DD days (endDate inclusive) or
// RFC 3339 instants.
func (s *Service) GetSlots(ctx context.Context, doctorID, startDate, endDate string) ([]SlotView, error) {
	id, err := uuid.Parse(strings.TrimSpace(doctorID))
	if err != nil {
		return nil, apperr.Validationf("doctorId must be a valid identifier")
	}
	rng, err := ParseRange(startDate, endDate, s.loc)
	if err != nil {
		return nil, err
	}

	slots, err := s.repo.ListWithin(ctx, id, rng.From, rng.To)
	if err != nil {
		return nil, s.unavailable("list availability slots", err)
	}

	first, last := rng.Dates(s.loc)
	bookings, err := s.repo.ScheduledBookings(ctx, id, first, last)
	if err != nil {
		return nil, s.unavailable("list scheduled appointments", err)
	}

	return Reconcile(slots, bookings, s.loc), nil
}

// ParseRange turns the startDate and endDate query values into a half-open
// range. A date-only end covers that whole day.
func ParseRange(startRaw, endRaw string, loc *time.Location) (Range, error) {
	startRaw, endRaw = strings.TrimSpace(startRaw), strings.TrimSpace(endRaw)
	if startRaw == "" || endRaw == "" {
		return Range{}, apperr.Validationf("startDate and endDate are required")
	}

	from, _, err := parseBound(startRaw, loc)
	if err != nil {
		return Range{}, apperr.Validationf("startDate: %v", err)
	}
	to, toIsDate, err := parseBound(endRaw, loc)
	if err != nil {
		return Range{}, apperr.Validationf("endDate: %v", err)
	}
	if toIsDate {
		to = to.AddDate(0, 0, 1)
	}

	if !to.After(from) {
		return Range{}, apperr.Validationf("endDate must not be before startDate")
	}
	return Range{From: from, To: to}, nil
}

var errBadBound = errors.New("must be YYYY-MM-DD or an RFC 3339 timestamp")

func parseBound(raw string, loc *time.Location) (time.Time, bool, error) {
	if d, err := caltime.ParseDate(raw); err == nil {
		return d.In(loc), true, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, errBadBound
}

func (s *Service) unavailable(op string, err error) error {
	s.log.Error().Err(err).Str("op", op).Msg("store failure")
	return apperr.Unavailable(op, err)
}
