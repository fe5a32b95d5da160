package availability

import (
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/caltime"
)

// Reconcile marks each slot booked when a scheduled appointment falls on the
// slot's start date and start minute, both read in loc. Slot length is not
// considered, so an appointment starting mid-slot leaves the slot free.
func Reconcile(slots []Slot, bookings []Booking, loc *time.Location) []SlotView {
	if loc == nil {
		loc = time.UTC
	}

	booked := make(map[caltime.Date][]caltime.Clock, len(bookings))
	for _, b := range bookings {
		booked[b.Date] = append(booked[b.Date], b.Time)
	}

	views := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		start := s.StartTime.In(loc)
		startClock := caltime.ClockOf(start)

		isBooked := false
		for _, c := range booked[caltime.DateOf(start)] {
			if c.SameMinute(startClock) {
				isBooked = true
				break
			}
		}

		views = append(views, SlotView{
			ID:        s.ID,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			IsBooked:  isBooked,
		})
	}
	return views
}
