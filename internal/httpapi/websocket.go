package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrSendBufferFull is returned when a websocket session cannot keep up
var ErrSendBufferFull = errors.New("websocket send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Tokens, not origins, authenticate signal sessions
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SignalSocket handles GET /api/v1/signal/ws. The authenticated client joins the
// relay for the lifetime of the websocket.
func (h *Handlers) SignalSocket(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r)
	if claims == nil {
		writeError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	// Reject duplicates before upgrading so the client sees a plain HTTP status
	if _, err := h.hub.GetClientRoles(r.Context(), claims.ClientID); err == nil {
		writeError(w, "Client is already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "client_id", claims.ClientID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &signalSession{
		conn:     conn,
		hub:      h.hub,
		clientID: claims.ClientID,
		send:     make(chan SignalFrame, h.hub.Config().SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		logger:   h.logger.With("client_id", claims.ClientID, "remote_addr", conn.RemoteAddr().String()),
	}

	// The welcome frame must precede any relayed signal
	session.send <- SignalFrame{Kind: FrameWelcome, ClientID: claims.ClientID}
	if err := h.hub.Join(claims.ClientID, session, claims.Roles); err != nil {
		session.closeWith(websocket.ClosePolicyViolation, err.Error())
		cancel()
		return
	}
	session.logger.Info("websocket client connected", "roles", claims.Roles)

	go session.writePump()
	session.readPump()
}

// signalSession bridges one websocket to the hub.
type signalSession struct {
	conn     *websocket.Conn
	hub      *relay.Hub
	clientID string
	send     chan SignalFrame
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// Deliver implements relay.Connection.
func (s *signalSession) Deliver(msg signaling.Message) error {
	select {
	case <-s.ctx.Done():
		return context.Canceled
	default:
	}
	select {
	case s.send <- SignalFrame{Kind: FrameSignal, ClientID: msg.ClientID, Type: msg.Type, Content: msg.Content}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// readPump forwards client frames to the hub. It owns all reads.
func (s *signalSession) readPump() {
	defer func() {
		s.hub.Leave(s.clientID, s)
		s.cancel()
		s.logger.Info("websocket client disconnected")
	}()

	s.conn.SetReadLimit(int64(s.hub.Config().MaxContentBytes) + 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame SignalFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		err := s.hub.Broadcast(s.ctx, s.clientID, frame.Type, frame.Content)
		switch {
		case err == nil:
		case errors.Is(err, relay.ErrRateLimited), errors.Is(err, relay.ErrContentTooLarge),
			errors.Is(err, relay.ErrEmptySignalType):
			s.logger.Debug("signal rejected", "type", frame.Type, "error", err)
			s.reply(SignalFrame{Kind: FrameError, Type: frame.Type, Message: err.Error()})
		default:
			s.logger.Warn("relay refused signal", "error", err)
			return
		}
	}
}

// writePump owns all writes, including pings.
func (s *signalSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// reply queues a frame for this client only, dropping it if the queue is full.
func (s *signalSession) reply(frame SignalFrame) {
	select {
	case s.send <- frame:
	default:
	}
}

// closeWith is used before the pumps start, when this goroutine still owns writes.
func (s *signalSession) closeWith(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = s.conn.Close()
}

var _ relay.Connection = (*signalSession)(nil)
