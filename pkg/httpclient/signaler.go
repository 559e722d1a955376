package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// SignalerConfig configures a WebSocketSignaler
type SignalerConfig struct {
	// HandshakeTimeout bounds dialing plus the wait for the welcome frame
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration

	// Logger receives transport diagnostics (optional)
	Logger *slog.Logger
}

// SetDefaults sets reasonable default values for SignalerConfig
func (sc *SignalerConfig) SetDefaults() {
	if sc.HandshakeTimeout == 0 {
		sc.HandshakeTimeout = 10 * time.Second
	}
	if sc.WriteTimeout == 0 {
		sc.WriteTimeout = 10 * time.Second
	}
	if sc.Logger == nil {
		sc.Logger = slog.New(slog.DiscardHandler)
	}
}

// WebSocketSignaler is a signaling.Signaler over the relay's signal websocket.
type WebSocketSignaler struct {
	client *Client
	config SignalerConfig

	// serializes Connect and Close
	lifecycle sync.Mutex

	mu        sync.RWMutex
	conn      *websocket.Conn
	done      chan struct{}
	id        string
	connected bool

	writeMu  sync.Mutex
	handlers signaling.Handlers
}

// Signaler creates a websocket signaler that authenticates through c.
func (c *Client) Signaler(config SignalerConfig) *WebSocketSignaler {
	config.SetDefaults()
	return &WebSocketSignaler{client: c, config: config}
}

// Connect logs in if needed, opens the websocket and waits for the welcome frame.
func (s *WebSocketSignaler) Connect(ctx context.Context) (string, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	if s.connected {
		id := s.id
		s.mu.RUnlock()
		return id, nil
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	if !s.client.IsAuthenticated() {
		if err := s.client.Authenticate(ctx); err != nil {
			return "", err
		}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.client.GetToken())
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.signalURL(), header)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("websocket dial failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var welcome SignalFrame
	if err := conn.ReadJSON(&welcome); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("handshake: %w", err)
	}
	if welcome.Kind != "welcome" || welcome.ClientID == "" {
		_ = conn.Close()
		return "", fmt.Errorf("handshake: unexpected frame %q", welcome.Kind)
	}
	_ = conn.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	s.mu.Lock()
	s.conn, s.done = conn, done
	s.id = welcome.ClientID
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(conn, welcome.ClientID, done)
	s.config.Logger.Info("connected to relay", "client_id", welcome.ClientID)
	return welcome.ClientID, nil
}

func (s *WebSocketSignaler) signalURL() string {
	u := *s.client.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/signal/ws"
	return u.String()
}

// ClientID returns the id announced by the relay once connected.
func (s *WebSocketSignaler) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return ""
	}
	return s.id
}

// SubmitSignal writes a signal frame.
func (s *WebSocketSignaler) SubmitSignal(ctx context.Context, signalType string, content []byte) error {
	s.mu.RLock()
	conn, connected := s.conn, s.connected
	s.mu.RUnlock()
	if !connected {
		return liveevent.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(SignalFrame{Type: signalType, Content: content}); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}

// OnSignal registers handler. Handlers run on the websocket read goroutine.
func (s *WebSocketSignaler) OnSignal(handler signaling.Handler) func() {
	return s.handlers.Add(handler)
}

func (s *WebSocketSignaler) readLoop(conn *websocket.Conn, id string, done chan struct{}) {
	defer close(done)
	for {
		var frame SignalFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.mu.Lock()
			wasConnected := s.connected && s.conn == conn
			if wasConnected {
				s.connected = false
			}
			s.mu.Unlock()
			if wasConnected {
				s.config.Logger.Warn("relay websocket closed", "error", err)
			}
			return
		}

		switch frame.Kind {
		case "signal":
			msg := signaling.Message{ClientID: frame.ClientID, Type: frame.Type, Content: frame.Content}
			s.handlers.Dispatch(msg, frame.ClientID == id)
		case "error":
			s.config.Logger.Warn("relay rejected signal", "type", frame.Type, "message", frame.Message)
		default:
			s.config.Logger.Debug("ignoring frame", "kind", frame.Kind)
		}
	}
}

// Close ends the websocket. Safe to call more than once.
func (s *WebSocketSignaler) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.connected = false
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(s.config.WriteTimeout))
	_ = conn.Close()
	<-done
	return nil
}

var _ signaling.Signaler = (*WebSocketSignaler)(nil)
