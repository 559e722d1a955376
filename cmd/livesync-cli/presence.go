package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/livesync-go/internal/logging"
	"github.com/rmacdonaldsmith/livesync-go/internal/presence"
)

// profile is the per-user payload shared through the presence list.
type profile struct {
	Name string `json:"name"`
}

func newPresenceCommand() *cobra.Command {
	var (
		object   string
		name     string
		state    string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Join a presence list and print who else is there",
		Long: `Publish this client's presence under a shared object id and print every
change to the list. Press Ctrl+C to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPresence(cmd, object, name, presence.State(state), duration)
		},
	}

	cmd.Flags().StringVar(&object, "object", "presence", "Presence object id")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the client id)")
	cmd.Flags().StringVar(&state, "state", string(presence.StateOnline), "Presence state: online, away or offline")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Leave after this long (0 stays until interrupted)")

	return cmd
}

func runPresence(cmd *cobra.Command, objectID, name string, state presence.State, duration time.Duration) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	if !state.Valid() {
		return fmt.Errorf("invalid presence state %q", state)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := newSession(setupCtx, logging.Discard())
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := presence.New[profile](s.rt, objectID)
	if err != nil {
		return err
	}
	defer users.Close()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	users.OnPresenceChanged(func(user presence.User[profile], local bool) {
		if local {
			return
		}
		printPresence(out, user)
	})

	// Set the local state first so the connect broadcast carries it and peers answer
	if name == "" {
		name = effectiveClientID()
	}
	if err := users.UpdatePresence(setupCtx, state, profile{Name: name}); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	if err := s.start(setupCtx); err != nil {
		return err
	}
	fmt.Fprintf(out, "👋 Joined %s as %s (%s)\n", objectID, name, state)

	<-ctx.Done()

	online := users.OnlineUsers()
	fmt.Fprintf(out, "✅ Left %s. %d user(s) online.\n", objectID, len(online))
	return nil
}

func printPresence(out io.Writer, user presence.User[profile]) {
	fmt.Fprintf(out, "👤 %s (%s) is %s\n", user.Data.Name, user.ClientID, user.State)
}
