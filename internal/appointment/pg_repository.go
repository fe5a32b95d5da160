package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/caltime"
	"github.com/hackgods/telehealth-scheduling/internal/db"
)

const (
	scheduledSlotIndex = "appointments_scheduled_slot_uniq"
	patientForeignKey  = "appointments_patient_id_fkey"
	doctorForeignKey   = "appointments_doctor_id_fkey"
)

const appointmentColumns = `
	a.id, a.patient_id, a.doctor_id, a.appointment_date, a.appointment_time,
	a.appointment_type, a.reason, a.status, a.video_call_link, a.created_at, a.updated_at`

const detailColumns = appointmentColumns + `,
	d.first_name, d.last_name, d.specialization,
	p.first_name, p.last_name`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.FirstName,
		&d.LastName,
		&d.Email,
		&d.Specialization,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

// appointmentDest returns scan targets for appointmentColumns and a finish
// func that converts the raw date and time columns.
func appointmentDest(a *Appointment) ([]any, func() error) {
	var date time.Time
	var clock string

	dest := []any{
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&date,
		&clock,
		&a.Type,
		&a.Reason,
		&a.Status,
		&a.VideoCallLink,
		&a.CreatedAt,
		&a.UpdatedAt,
	}

	finish := func() error {
		a.Date = caltime.DateOf(date)
		c, err := caltime.ParseClock(clock)
		if err != nil {
			return fmt.Errorf("appointment %s has malformed time %q: %w", a.ID, clock, err)
		}
		a.Time = c
		return nil
	}

	return dest, finish
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	dest, finish := appointmentDest(&a)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if err := finish(); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*Detail, error) {
	var d Detail
	dest, finish := appointmentDest(&d.Appointment)
	dest = append(dest,
		&d.Doctor.FirstName,
		&d.Doctor.LastName,
		&d.Doctor.Specialization,
		&d.Patient.FirstName,
		&d.Patient.LastName,
	)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if err := finish(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, specialization, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) FindScheduled(ctx context.Context, doctorID uuid.UUID, date caltime.Date, at caltime.Clock) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.doctor_id = $1
		  AND a.appointment_date = $2::date
		  AND a.appointment_time = $3
		  AND a.status = 'scheduled'
	`, doctorID, date.String(), at.String())
	return scanAppointment(row)
}

func (r *PgRepository) Insert(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments AS a (
			id, patient_id, doctor_id, appointment_date, appointment_time,
			appointment_type, reason, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, 'scheduled', now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.Date.String(), a.Time.String(), a.Type, a.Reason,
	)

	created, err := scanAppointment(row)
	switch {
	case err == nil:
		return created, nil
	case db.IsUniqueViolation(err, scheduledSlotIndex):
		return nil, ErrSlotAlreadyBooked
	case db.IsForeignKeyViolation(err, patientForeignKey):
		return nil, ErrPatientNotFound
	case db.IsForeignKeyViolation(err, doctorForeignKey):
		return nil, ErrDoctorNotFound
	default:
		return nil, err
	}
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+detailColumns+`
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		JOIN patients p ON p.id = a.patient_id
		WHERE a.id = $1
	`, id)
	return scanDetail(row)
}

func (r *PgRepository) ListFor(ctx context.Context, userID uuid.UUID, role auth.Role, filter ListFilter) ([]Detail, error) {
	var column string
	switch role {
	case auth.RolePatient:
		column = "a.patient_id"
	case auth.RoleDoctor:
		column = "a.doctor_id"
	default:
		return nil, fmt.Errorf("list appointments: unsupported role %q", role)
	}

	query := `
		SELECT ` + detailColumns + `
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		JOIN patients p ON p.id = a.patient_id
		WHERE ` + column + ` = $1`
	args := []any{userID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += ` AND a.status = $` + strconv.Itoa(len(args))
	}
	if filter.Date != nil {
		args = append(args, filter.Date.String())
		query += ` AND a.appointment_date = $` + strconv.Itoa(len(args)) + `::date`
	}
	query += ` ORDER BY a.appointment_date, a.appointment_time, a.id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Detail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments AS a
		SET status = $2,
		    updated_at = now()
		WHERE a.id = $1
		  AND a.status = $3
		RETURNING `+appointmentColumns,
		id, to, from,
	)
	return scanAppointment(row)
}

func (r *PgRepository) SetVideoLink(ctx context.Context, id uuid.UUID, link string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments AS a
		SET video_call_link = $2,
		    updated_at = now()
		WHERE a.id = $1
		  AND a.appointment_type = 'video'
		  AND a.video_call_link IS NULL
		RETURNING `+appointmentColumns,
		id, link,
	)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// someone else set it first
		return r.GetByID(ctx, id)
	}
	return updated, err
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
