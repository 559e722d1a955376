package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rmacdonaldsmith/livesync-go/internal/roles"
	"github.com/rmacdonaldsmith/livesync-go/internal/runtime"
	"github.com/rmacdonaldsmith/livesync-go/internal/signalgrpc"
	"github.com/rmacdonaldsmith/livesync-go/internal/timestamp"
	"github.com/rmacdonaldsmith/livesync-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// session is a runtime joined to the relay over the signal websocket, or over gRPC
// when --grpc is set. The relay's HTTP API is both timestamp authority and role host.
type session struct {
	rt       *runtime.Runtime
	clock    *timestamp.HostTimestampProvider
	verifier *roles.HostRoleVerifier
}

// newSession authenticates if needed and builds a runtime that is not started yet, so
// callers can create scopes and presence objects before connecting.
func newSession(ctx context.Context, logger *slog.Logger) (*session, error) {
	if !noAuth && !client.IsAuthenticated() {
		if err := client.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	clock := timestamp.NewHostTimestampProvider(client, timestamp.HostConfig{}, logger)
	if err := clock.Sync(ctx); err != nil {
		return nil, fmt.Errorf("failed to sync clock: %w", err)
	}
	verifier := roles.NewHostRoleVerifier(client, roles.HostConfig{}, logger)

	var signaler signaling.Signaler = client.Signaler(httpclient.SignalerConfig{Logger: logger})
	if grpcTarget != "" {
		signaler = signalgrpc.NewClient(grpcTarget, client.GetToken(), signalgrpc.WithClientLogger(logger))
	}

	rt, err := runtime.New(runtime.NewConfig(), signaler,
		runtime.WithLogger(logger),
		runtime.WithTimestampProvider(clock),
		runtime.WithRoleVerifier(verifier),
	)
	if err != nil {
		_ = verifier.Close()
		return nil, err
	}
	return &session{rt: rt, clock: clock, verifier: verifier}, nil
}

// start connects the runtime and keeps the clock offset fresh until Close.
func (s *session) start(ctx context.Context) error {
	if err := s.rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}
	s.clock.Start(context.WithoutCancel(ctx))
	return nil
}

func (s *session) Close() error {
	s.clock.Stop()
	err := s.rt.Close()
	_ = s.verifier.Close()
	return err
}
