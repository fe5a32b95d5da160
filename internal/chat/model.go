package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message is one chat line of an appointment. Messages are append-only and
// ordered by the store-assigned CreatedAt.
type Message struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	SenderName    string    `json:"sender_name"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// SendInput is the client payload of a send-message event.
type SendInput struct {
	AppointmentID string `json:"appointmentId"`
	SenderID      string `json:"senderId"`
	SenderName    string `json:"senderName"`
	Content       string `json:"content"`
}
