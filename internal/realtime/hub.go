// Package realtime runs the websocket side of the service: presence of
// connected users, appointment chat rooms and point-to-point WebRTC
// signaling between connections.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/chat"
)

// MessageSender persists chat messages. *chat.Service satisfies it.
type MessageSender interface {
	Send(ctx context.Context, in chat.SendInput) (*chat.Message, error)
}

// Client is one live connection. The hub writes encoded envelopes to Send;
// the transport drains it and exits when the hub closes it.
type Client struct {
	ID   string
	Send chan []byte
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{ID: id, Send: make(chan []byte, buffer)}
}

// Hub owns the presence registry, the room table and the set of live
// clients. All three are touched only from the Run loop; other goroutines
// submit closures through ops. Message persistence happens on the caller's
// goroutine so a slow store never stalls the loop.
type Hub struct {
	ops      chan func()
	done     chan struct{}
	stopOnce sync.Once

	clients  map[string]*Client
	registry *Registry
	rooms    *Rooms

	messages MessageSender
	log      zerolog.Logger
}

func NewHub(messages MessageSender, log zerolog.Logger) *Hub {
	return &Hub{
		ops:      make(chan func(), 1024),
		done:     make(chan struct{}),
		clients:  make(map[string]*Client),
		registry: NewRegistry(),
		rooms:    NewRooms(),
		messages: messages,
		log:      log.With().Str("component", "realtime").Logger(),
	}
}

// Run processes hub operations until ctx is cancelled, then closes every
// client's Send channel.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			for id, c := range h.clients {
				close(c.Send)
				delete(h.clients, id)
			}
			return
		}
	}
}

// submit queues op for the loop. It reports false once the hub has stopped.
func (h *Hub) submit(op func()) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

// call runs op on the loop and waits for it.
func (h *Hub) call(op func()) bool {
	finished := make(chan struct{})
	if !h.submit(func() { op(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// Connect adds c to the hub and tells it its connection id.
func (h *Hub) Connect(c *Client) {
	h.submit(func() {
		h.clients[c.ID] = c
		h.emit(c, EventSocketID, c.ID)
	})
}

// Disconnect forgets the connection, leaves its rooms and, if it had
// registered, tells everyone else it left. Unknown ids are ignored.
func (h *Hub) Disconnect(connID string) {
	h.submit(func() {
		c, ok := h.clients[connID]
		if !ok {
			return
		}
		delete(h.clients, connID)
		close(c.Send)
		h.rooms.LeaveAll(connID)

		if h.registry.Unregister(connID) {
			h.broadcastAll(EventUserLeft, userLeft{UserID: connID, Users: h.registry.List()})
		}
	})
}

// Register records who is behind connID and announces the full presence
// list to every client. An empty userID falls back to the connection id.
func (h *Hub) Register(connID, userID, username string) {
	if userID == "" {
		userID = connID
	}
	h.submit(func() {
		if _, ok := h.clients[connID]; !ok {
			return
		}
		h.registry.Register(connID, userID, username)
		h.broadcastAll(EventUserJoined, userJoined{
			UserID:   connID,
			Username: username,
			Users:    h.registry.List(),
		})
	})
}

// JoinRoom subscribes connID to an appointment's chat room.
func (h *Hub) JoinRoom(connID, room string) {
	h.submit(func() {
		if _, ok := h.clients[connID]; !ok {
			return
		}
		if h.rooms.Join(connID, room) {
			h.log.Debug().Str("conn", connID).Str("room", room).Msg("joined room")
		}
	})
}

// SendMessage persists a chat message and then delivers the stored record
// to every member of its appointment room. If persistence fails only the
// sender hears about it.
func (h *Hub) SendMessage(ctx context.Context, connID string, in chat.SendInput) {
	msg, err := h.messages.Send(ctx, in)
	if err != nil {
		h.submit(func() {
			if c, ok := h.clients[connID]; ok {
				h.emit(c, EventError, errorPayload{Message: clientMessage(err)})
			}
		})
		return
	}

	room := msg.AppointmentID.String()
	h.submit(func() {
		h.broadcastRoom(room, EventReceiveMessage, msg)
	})
}

// Relay forwards a signaling payload to the target connection, stamped with
// the sender's id. A missing target drops the payload silently.
func (h *Hub) Relay(kind, fromConnID string, sig signalIn) {
	h.submit(func() {
		target, ok := h.clients[sig.To]
		if !ok {
			h.log.Debug().Str("event", kind).Str("to", sig.To).Msg("relay target gone")
			return
		}

		username := sig.Username
		if username == "" {
			if e, ok := h.registry.Lookup(fromConnID); ok {
				username = e.Username
			}
		}
		h.emit(target, kind, sig.outbound(kind, fromConnID, username))
	})
}

// Dispatch decodes one inbound envelope from connID and routes it.
func (h *Hub) Dispatch(ctx context.Context, connID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.emitTo(connID, EventError, errorPayload{Message: "malformed event"})
		return
	}

	switch env.Event {
	case EventRegisterUser:
		var p registerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.emitTo(connID, EventError, errorPayload{Message: "malformed register-user payload"})
			return
		}
		h.Register(connID, p.UserID, p.Username)

	case EventJoinAppointment:
		var room roomPayload
		if err := json.Unmarshal(env.Data, &room); err != nil || room == "" {
			h.emitTo(connID, EventError, errorPayload{Message: "join-appointment needs an appointment id"})
			return
		}
		h.JoinRoom(connID, string(room))

	case EventSendMessage:
		var in chat.SendInput
		if err := json.Unmarshal(env.Data, &in); err != nil {
			h.emitTo(connID, EventError, errorPayload{Message: "malformed send-message payload"})
			return
		}
		h.SendMessage(ctx, connID, in)

	case EventOffer, EventAnswer, EventICECandidate, EventCallDeclined:
		var sig signalIn
		if err := json.Unmarshal(env.Data, &sig); err != nil {
			h.log.Debug().Err(err).Str("event", env.Event).Msg("dropping malformed signal")
			return
		}
		h.Relay(env.Event, connID, sig)

	default:
		h.emitTo(connID, EventError, errorPayload{Message: "unknown event " + env.Event})
	}
}

// Presence returns the registered entries in registration order.
func (h *Hub) Presence() []PresenceEntry {
	var out []PresenceEntry
	h.call(func() { out = h.registry.List() })
	return out
}

// RoomSize returns how many connections joined room.
func (h *Hub) RoomSize(room string) int {
	var n int
	h.call(func() { n = h.rooms.Size(room) })
	return n
}

func (h *Hub) emitTo(connID, event string, data any) {
	h.submit(func() {
		if c, ok := h.clients[connID]; ok {
			h.emit(c, event, data)
		}
	})
}

// emit must run on the loop. A full buffer drops the event for that client.
func (h *Hub) emit(c *Client, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	h.deliver(c, event, payload)
}

func (h *Hub) deliver(c *Client, event string, payload []byte) {
	select {
	case c.Send <- payload:
	default:
		h.log.Warn().Str("conn", c.ID).Str("event", event).Msg("send buffer full, dropping event")
	}
}

func (h *Hub) broadcastAll(event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	for _, c := range h.clients {
		h.deliver(c, event, payload)
	}
}

func (h *Hub) broadcastRoom(room, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	for _, id := range h.rooms.Members(room) {
		if c, ok := h.clients[id]; ok {
			h.deliver(c, event, payload)
		}
	}
}

// clientMessage hides store details from the sender.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotFound):
		return err.Error()
	default:
		return "failed to send message"
	}
}
