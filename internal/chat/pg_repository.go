package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

const appointmentForeignKey = "messages_appointment_id_fkey"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message

	err := row.Scan(
		&m.ID,
		&m.AppointmentID,
		&m.SenderID,
		&m.SenderName,
		&m.Content,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *PgRepository) Insert(ctx context.Context, m *Message) (*Message, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, sender_name, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, appointment_id, sender_id, sender_name, content, created_at
	`, m.ID, m.AppointmentID, m.SenderID, m.SenderName, m.Content)

	created, err := scanMessage(row)
	if err != nil {
		if db.IsForeignKeyViolation(err, appointmentForeignKey) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, sender_id, sender_name, content, created_at
		FROM messages
		WHERE appointment_id = $1
		ORDER BY created_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) IsParticipant(ctx context.Context, appointmentID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE id = $1 AND (patient_id = $2 OR doctor_id = $2)
		)
	`, appointmentID, userID).Scan(&ok)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	return ok, nil
}
