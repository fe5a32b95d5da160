package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/caltime"
	"github.com/hackgods/telehealth-scheduling/internal/db"
)

const doctorForeignKey = "doctor_availability_doctor_id_fkey"

// PgRepository stores slots in doctor_availability. Its start_time and
// end_time columns are TIMESTAMP without zone and hold wall-clock time in loc.
type PgRepository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

func NewPgRepository(pool *pgxpool.Pool, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{pool: pool, loc: loc}
}

// toWall drops the zone after moving t into loc, which is what a TIMESTAMP
// column keeps.
func (r *PgRepository) toWall(t time.Time) time.Time {
	w := t.In(r.loc)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), time.UTC)
}

func (r *PgRepository) fromWall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), r.loc)
}

func (r *PgRepository) scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.StartTime = r.fromWall(s.StartTime)
	s.EndTime = r.fromWall(s.EndTime)
	return &s, nil
}

func (r *PgRepository) Insert(ctx context.Context, s *Slot) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_availability (id, doctor_id, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, doctor_id, start_time, end_time, created_at
	`, s.ID, s.DoctorID, r.toWall(s.StartTime), r.toWall(s.EndTime))

	created, err := r.scanSlot(row)
	if err != nil {
		if db.IsForeignKeyViolation(err, doctorForeignKey) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, created_at
		FROM doctor_availability
		WHERE id = $1
	`, id)
	return r.scanSlot(row)
}

func (r *PgRepository) Delete(ctx context.Context, id, doctorID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM doctor_availability
		WHERE id = $1 AND doctor_id = $2
	`, id, doctorID)
	if err != nil {
		return false, fmt.Errorf("delete availability slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) ListWithin(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, start_time, end_time, created_at
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND end_time <= $3
		ORDER BY start_time ASC, id ASC
	`, doctorID, r.toWall(from), r.toWall(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ScheduledBookings(ctx context.Context, doctorID uuid.UUID, first, last caltime.Date) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_date, appointment_time
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND appointment_date >= $2::date
		  AND appointment_date <= $3::date
	`, doctorID, first.String(), last.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		var date time.Time
		var clock string
		if err := rows.Scan(&date, &clock); err != nil {
			return nil, err
		}
		c, err := caltime.ParseClock(clock)
		if err != nil {
			return nil, fmt.Errorf("appointment time %q: %w", clock, err)
		}
		result = append(result, Booking{Date: caltime.DateOf(date), Time: c})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
