package chat

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

const maxContentLength = 5000

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "chat").Logger(),
	}
}

// Send validates and persists a chat message. The returned record carries
// the id and timestamp the store assigned.
func (s *Service) Send(ctx context.Context, in SendInput) (*Message, error) {
	appointmentID, err := uuid.Parse(strings.TrimSpace(in.AppointmentID))
	if err != nil {
		return nil, apperr.Validationf("appointmentId must be a valid identifier")
	}
	senderID, err := uuid.Parse(strings.TrimSpace(in.SenderID))
	if err != nil {
		return nil, apperr.Validationf("senderId must be a valid identifier")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.Validationf("content must not be empty")
	}
	if len(content) > maxContentLength {
		return nil, apperr.Validationf("content must be at most %d characters", maxContentLength)
	}
	name := strings.TrimSpace(in.SenderName)
	if name == "" {
		return nil, apperr.Validationf("senderName must not be empty")
	}

	msg, err := s.repo.Insert(ctx, &Message{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		SenderID:      senderID,
		SenderName:    name,
		Content:       content,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		s.log.Error().Err(err).Str("appointment_id", appointmentID.String()).Msg("persist message")
		return nil, apperr.Unavailable("insert message", err)
	}
	return msg, nil
}

// History returns an appointment's messages oldest first. Only the
// appointment's patient and doctor may read it.
func (s *Service) History(ctx context.Context, requester auth.Identity, appointmentID uuid.UUID) ([]Message, error) {
	ok, err := s.repo.IsParticipant(ctx, appointmentID, requester.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("check appointment access")
		return nil, apperr.Unavailable("check appointment access", err)
	}
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	msgs, err := s.repo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		s.log.Error().Err(err).Msg("list messages")
		return nil, apperr.Unavailable("list messages", err)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID.String() < msgs[j].ID.String()
	})
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
