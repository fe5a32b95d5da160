package availability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/caltime"
)

var (
	ErrSlotNotFound   = apperr.NotFound("availability slot")
	ErrDoctorNotFound = apperr.NotFound("doctor")

	ErrNotSlotOwner = apperr.Forbidden("slot belongs to another doctor")
	ErrDoctorsOnly  = apperr.Forbidden("only doctors can manage availability")
)

type Repository interface {
	// Insert stores a new slot; an unknown doctor yields ErrDoctorNotFound.
	Insert(ctx context.Context, s *Slot) (*Slot, error)
	Get(ctx context.Context, id uuid.UUID) (*Slot, error)
	// Delete removes the slot if doctorID owns it and reports whether a row
	// went away.
	Delete(ctx context.Context, id, doctorID uuid.UUID) (bool, error)

	// ListWithin returns slots fully inside [from, to), ordered by start.
	ListWithin(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
	// ScheduledBookings returns the keys of scheduled appointments dated
	// first through last inclusive.
	ScheduledBookings(ctx context.Context, doctorID uuid.UUID, first, last caltime.Date) ([]Booking, error)
}
