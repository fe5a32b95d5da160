package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names on the wire.
const (
	EventSocketID        = "socket-id"
	EventRegisterUser    = "register-user"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventJoinAppointment = "join-appointment"
	EventSendMessage     = "send-message"
	EventReceiveMessage  = "receive-message"
	EventOffer           = "offer"
	EventAnswer          = "answer"
	EventICECandidate    = "ice-candidate"
	EventCallDeclined    = "call-declined"
	EventError           = "error"
)

// Envelope frames every websocket text message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// PresenceEntry is one registered connection.
type PresenceEntry struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type userJoined struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Users    []PresenceEntry `json:"users"`
}

type userLeft struct {
	UserID string          `json:"userId"`
	Users  []PresenceEntry `json:"users"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// registerPayload accepts either {"userId": ..., "username": ...} or a bare
// username string.
type registerPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (p *registerPayload) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*p = registerPayload{Username: name}
		return nil
	}
	type plain registerPayload
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = registerPayload(v)
	return nil
}

// roomPayload accepts a bare appointment id string or {"appointmentId": ...}.
type roomPayload string

func (p *roomPayload) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*p = roomPayload(strings.TrimSpace(id))
		return nil
	}
	var v struct {
		AppointmentID string `json:"appointmentId"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = roomPayload(strings.TrimSpace(v.AppointmentID))
	return nil
}

// signalIn is an inbound offer, answer, ice-candidate or call-declined.
// The client's own "from" is ignored; the hub stamps the sending connection.
type signalIn struct {
	To        string          `json:"to"`
	Username  string          `json:"username,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type offerOut struct {
	From     string          `json:"from"`
	Offer    json.RawMessage `json:"offer"`
	Username string          `json:"username"`
}

type answerOut struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
}

type candidateOut struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type declinedOut struct {
	From string `json:"from"`
}

// outbound builds the payload forwarded to the target of a signal.
func (s signalIn) outbound(kind, from, username string) any {
	switch kind {
	case EventOffer:
		return offerOut{From: from, Offer: s.Offer, Username: username}
	case EventAnswer:
		return answerOut{From: from, Answer: s.Answer}
	case EventICECandidate:
		return candidateOut{From: from, Candidate: s.Candidate}
	default:
		return declinedOut{From: from}
	}
}
