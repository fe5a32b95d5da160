package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/caltime"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Type string

const (
	TypeVideo    Type = "video"
	TypeInPerson Type = "in-person"
)

type Doctor struct {
	ID             uuid.UUID `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	Specialization *string   `json:"specialization,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Appointment struct {
	ID            uuid.UUID     `json:"id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	DoctorID      uuid.UUID     `json:"doctor_id"`
	Date          caltime.Date  `json:"appointment_date"`
	Time          caltime.Clock `json:"appointment_time"`
	Type          Type          `json:"appointment_type"`
	Reason        string        `json:"reason"`
	Status        Status        `json:"status"`
	VideoCallLink *string       `json:"video_call_link"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsParticipant reports whether userID is the appointment's patient or doctor.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID
}

// Party is the display subset of a doctor or patient joined onto a listing.
type Party struct {
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Specialization *string `json:"specialization,omitempty"`
}

type Detail struct {
	Appointment
	Doctor  Party `json:"doctor"`
	Patient Party `json:"patient"`
}

// BookRequest carries the raw client fields of a booking. The service
// validates and normalises every field before touching the store.
type BookRequest struct {
	DoctorID        string `json:"doctorId"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	AppointmentType string `json:"appointmentType"`
	Reason          string `json:"reason"`
}

type ListFilter struct {
	Status *Status
	Date   *caltime.Date
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
