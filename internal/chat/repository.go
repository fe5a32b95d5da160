package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
)

var ErrAppointmentNotFound = apperr.NotFound("appointment")

type Repository interface {
	// Insert stores m and returns it with the store's id and created_at.
	// An unknown appointment yields ErrAppointmentNotFound.
	Insert(ctx context.Context, m *Message) (*Message, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Message, error)
	IsParticipant(ctx context.Context, appointmentID, userID uuid.UUID) (bool, error)
}
