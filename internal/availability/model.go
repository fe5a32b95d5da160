package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/caltime"
)

// Slot is a window a doctor declared as bookable. Slots are created and
// deleted, never edited.
type Slot struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// SlotView is a slot as returned to clients, with its booked flag.
type SlotView struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsBooked  bool      `json:"isBooked"`
}

// Booking is the (date, time) key of a scheduled appointment.
type Booking struct {
	Date caltime.Date
	Time caltime.Clock
}

// Range is a query window. From is inclusive, To exclusive.
type Range struct {
	From time.Time
	To   time.Time
}

// Dates returns the first and last calendar day the range touches in loc.
func (r Range) Dates(loc *time.Location) (caltime.Date, caltime.Date) {
	last := r.To.Add(-time.Nanosecond)
	return caltime.DateOf(r.From.In(loc)), caltime.DateOf(last.In(loc))
}
