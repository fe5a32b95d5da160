package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/caltime"
)

var (
	ErrDoctorNotFound      = apperr.NotFound("doctor")
	ErrPatientNotFound     = apperr.NotFound("patient")
	ErrAppointmentNotFound = apperr.NotFound("appointment")
	ErrVideoLinkNotFound   = apperr.NotFound("video link")

	ErrSlotAlreadyBooked       = apperr.Conflict("slot already booked")
	ErrSlotBeingBooked         = apperr.Conflict("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = apperr.Conflict("invalid status transition")

	ErrPatientsOnly   = apperr.Forbidden("only patients can book appointments")
	ErrNoAppointments = apperr.Forbidden("only patients and doctors have appointments")

	ErrNotVideoAppointment = apperr.Validationf("video links are only available for video appointments")
)

// Repository contains all DB interactions needed by the service. Store
// failures come back as plain errors; only the sentinels above are typed.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// FindScheduled returns the scheduled appointment holding the slot, or
	// ErrAppointmentNotFound.
	FindScheduled(ctx context.Context, doctorID uuid.UUID, date caltime.Date, at caltime.Clock) (*Appointment, error)

	// Insert stores a new scheduled appointment. A concurrent insert for the
	// same slot surfaces as ErrSlotAlreadyBooked.
	Insert(ctx context.Context, a *Appointment) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)
	ListFor(ctx context.Context, userID uuid.UUID, role auth.Role, filter ListFilter) ([]Detail, error)

	// UpdateStatus moves id from one status to another and returns
	// ErrAppointmentNotFound when no row is in the from state.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// SetVideoLink stores link if none is set yet and returns the row as it
	// stands afterwards.
	SetVideoLink(ctx context.Context, id uuid.UUID, link string) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
