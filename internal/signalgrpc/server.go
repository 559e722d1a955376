// Package signalgrpc carries relay signals over a bidirectional gRPC stream.
package signalgrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/livesync-go/internal/auth"
	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// ErrSendBufferFull is returned by a stream connection whose outbound queue is full
var ErrSendBufferFull = errors.New("send buffer full")

const stopGrace = 5 * time.Second

// Server exposes a relay.Hub as a gRPC service
type Server struct {
	hub    *relay.Hub
	auth   *auth.JWTAuth
	config Config
	logger *slog.Logger

	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a gRPC server relaying through hub. Clients authenticate with
// a bearer token in the "authorization" metadata key.
func NewServer(hub *relay.Hub, authn *auth.JWTAuth, config Config, logger *slog.Logger) (*Server, error) {
	if hub == nil || authn == nil {
		return nil, errors.New("hub and authenticator are required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grpc config: %w", err)
	}
	config.SetDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		hub:    hub,
		auth:   authn,
		config: config,
		logger: logger.With("component", "signalgrpc"),
		grpc:   grpc.NewServer(grpc.MaxRecvMsgSize(config.MaxMessageSize)),
		health: health.NewServer(),
	}
	RegisterSignalRelayServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc relay listening", "address", lis.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Close()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close reports NOT_SERVING and stops the server. Streams still open after
// stopGrace are cut.
func (s *Server) Close() {
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopGrace):
		s.grpc.Stop()
		<-stopped
	}
}

// Connect runs one client session: authenticate, join, then pump frames both ways.
func (s *Server) Connect(stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	claims, err := s.authenticate(ctx)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	clientID := claims.ClientID
	logger := s.logger.With("client_id", clientID)

	conn := &streamConn{out: make(chan signaling.Message, s.config.SendBuffer), done: ctx.Done()}
	if err := s.hub.Join(clientID, conn, claims.Roles); err != nil {
		if errors.Is(err, relay.ErrAlreadyConnected) {
			return status.Error(codes.AlreadyExists, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	defer s.hub.Leave(clientID, conn)

	welcome, err := welcomeFrame(clientID)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := stream.SendMsg(welcome); err != nil {
		return err
	}
	logger.Info("client connected", "roles", claims.Roles)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.writeLoop(ctx, stream, conn, logger)
	}()

	err = s.readLoop(ctx, stream, clientID, logger)
	cancel()
	wg.Wait()
	logger.Info("client disconnected")
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return nil
	}
	return err
}

func (s *Server) authenticate(ctx context.Context) (*auth.Claims, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, auth.ErrEmptyToken
	}
	return s.auth.ValidateToken(values[0])
}

func (s *Server) readLoop(ctx context.Context, stream grpc.ServerStream, clientID string, logger *slog.Logger) error {
	for {
		frame := &structpb.Struct{}
		if err := stream.RecvMsg(frame); err != nil {
			return err
		}
		msg, err := decodeSignal(frame)
		if err != nil {
			logger.Warn("dropping frame", "error", err)
			continue
		}
		// The relay stamps the sender; a client cannot speak for another
		err = s.hub.Broadcast(ctx, clientID, msg.Type, msg.Content)
		switch {
		case err == nil:
		case errors.Is(err, relay.ErrRateLimited), errors.Is(err, relay.ErrContentTooLarge),
			errors.Is(err, relay.ErrEmptySignalType):
			logger.Debug("signal rejected", "type", msg.Type, "error", err)
		default:
			return err
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, stream grpc.ServerStream, conn *streamConn, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-conn.out:
			frame, err := signalFrame(msg)
			if err != nil {
				logger.Warn("dropping unencodable signal", "type", msg.Type, "error", err)
				continue
			}
			if err := stream.SendMsg(frame); err != nil {
				logger.Debug("stream send failed", "error", err)
				return
			}
		}
	}
}

// streamConn queues signals for one stream. A slow reader loses signals rather than stalling the hub.
type streamConn struct {
	out  chan signaling.Message
	done <-chan struct{}
}

func (c *streamConn) Deliver(msg signaling.Message) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

var (
	_ SignalRelayServer = (*Server)(nil)
	_ relay.Connection  = (*streamConn)(nil)
)
