package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 64 * 1024
)

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type HandlerOptions struct {
	// AllowedOrigins limits browser origins; empty or "*" allows all.
	AllowedOrigins []string
	SendBuffer     int
	// PingPeriod and PongWait override the keep-alive timings.
	PingPeriod time.Duration
	PongWait   time.Duration
}

// Handler upgrades HTTP requests to websocket connections served by hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     HandlerOptions
	log      zerolog.Logger
}

func NewHandler(hub *Hub, opts HandlerOptions, log zerolog.Logger) *Handler {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = pingPeriod
	}
	if opts.PongWait <= 0 {
		opts.PongWait = pongWait
	}

	h := &Handler{
		hub:  hub,
		opts: opts,
		log:  log.With().Str("component", "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), h.opts.SendBuffer)
	h.hub.Connect(client)
	h.log.Debug().Str("conn", client.ID).Str("remote", r.RemoteAddr).Msg("connected")

	go h.writePump(client, ws)
	// the request context is cancelled once the handler returns, so the
	// read loop gets its own
	h.readPump(context.WithoutCancel(r.Context()), client, ws)
}

// readPump feeds inbound envelopes to the hub until the connection fails or
// stops answering pings, then disconnects the client.
func (h *Handler) readPump(ctx context.Context, client *Client, conn Conn) {
	defer func() {
		h.hub.Disconnect(client.ID)
		conn.Close()
		h.log.Debug().Str("conn", client.ID).Msg("disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("conn", client.ID).Msg("read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.hub.Dispatch(ctx, client.ID, raw)
	}
}

// writePump drains the client's Send channel and pings on an interval. It
// returns when the hub closes Send or a write fails.
func (h *Handler) writePump(client *Client, conn Conn) {
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
