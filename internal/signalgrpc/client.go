package signalgrpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithDialOptions replaces the default insecure transport credentials.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *Client) {
		c.dialOpts = opts
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHandshakeTimeout bounds the wait for the welcome frame.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// Client is a signaling.Signaler backed by a Connect stream to a relay server.
type Client struct {
	target           string
	token            string
	dialOpts         []grpc.DialOption
	logger           *slog.Logger
	handshakeTimeout time.Duration

	// serializes Connect and Close
	lifecycle sync.Mutex

	mu        sync.RWMutex
	conn      *grpc.ClientConn
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	done      chan struct{}
	id        string
	connected bool

	sendMu   sync.Mutex
	handlers signaling.Handlers
}

// NewClient creates a client for the relay at target, authenticating with token.
func NewClient(target, token string, opts ...ClientOption) *Client {
	c := &Client{
		target:           target,
		token:            token,
		dialOpts:         []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		logger:           slog.New(slog.DiscardHandler),
		handshakeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the stream and waits for the relay to announce the client id.
func (c *Client) Connect(ctx context.Context) (string, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	if c.connected {
		id := c.id
		c.mu.RUnlock()
		return id, nil
	}
	c.mu.RUnlock()

	conn, err := grpc.NewClient(c.target, c.dialOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to create gRPC client: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+c.token)
	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], connectMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return "", fmt.Errorf("failed to open stream: %w", err)
	}

	id, err := c.handshake(ctx, stream)
	if err != nil {
		cancel()
		_ = conn.Close()
		return "", err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn, c.stream, c.cancel, c.done = conn, stream, cancel, done
	c.id = id
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(stream, id, done)
	c.logger.Info("connected to relay", "target", c.target, "client_id", id)
	return id, nil
}

func (c *Client) handshake(ctx context.Context, stream grpc.ClientStream) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	type result struct {
		id  string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		frame := &structpb.Struct{}
		if err := stream.RecvMsg(frame); err != nil {
			ch <- result{err: err}
			return
		}
		id, err := decodeWelcome(frame)
		ch <- result{id: id, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("handshake: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("handshake: %w", r.err)
		}
		return r.id, nil
	}
}

// ClientID returns the id assigned by the relay once connected.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ""
	}
	return c.id
}

// SubmitSignal sends a signal frame. The relay echoes it back to every client.
func (c *Client) SubmitSignal(ctx context.Context, signalType string, content []byte) error {
	c.mu.RLock()
	stream, connected := c.stream, c.connected
	c.mu.RUnlock()
	if !connected {
		return liveevent.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	frame, err := signalFrame(signaling.Message{Type: signalType, Content: content})
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := stream.SendMsg(frame); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}

// OnSignal registers handler. Handlers run on the stream's receive goroutine.
func (c *Client) OnSignal(handler signaling.Handler) func() {
	return c.handlers.Add(handler)
}

func (c *Client) readLoop(stream grpc.ClientStream, id string, done chan struct{}) {
	defer close(done)
	for {
		frame := &structpb.Struct{}
		if err := stream.RecvMsg(frame); err != nil {
			c.mu.Lock()
			wasConnected := c.connected && c.stream == stream
			if wasConnected {
				c.connected = false
			}
			c.mu.Unlock()
			if wasConnected {
				c.logger.Warn("relay stream ended", "error", err)
			}
			return
		}
		msg, err := decodeSignal(frame)
		if err != nil {
			c.logger.Warn("dropping frame", "error", err)
			continue
		}
		c.handlers.Dispatch(msg, msg.ClientID == id)
	}
}

// Close ends the stream. Safe to call more than once.
func (c *Client) Close() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn, c.stream, c.cancel, c.done = nil, nil, nil, nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.sendMu.Lock()
	cancel()
	c.sendMu.Unlock()
	<-done

	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

var _ signaling.Signaler = (*Client)(nil)
