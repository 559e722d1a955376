package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/livesync-go/internal/logging"
)

func newSendCommand() *cobra.Command {
	var (
		scope      string
		event      string
		payload    string
		allowRoles []string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one event to a scope",
		Long: `Join the session, send a single event to a scope and leave. The payload must
be valid JSON. Receivers only accept the event if this client holds one of the
roles the scope allows.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, scope, event, payload, allowRoles)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Scope name (required)")
	cmd.Flags().StringVar(&event, "event", "", "Event name (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Event payload as JSON")
	cmd.Flags().StringSliceVar(&allowRoles, "allow-role", nil, "Role the scope admits (repeatable; none admits everyone)")
	for _, name := range []string{"scope", "event"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("Failed to mark %s as required: %v", name, err))
		}
	}

	return cmd
}

func runSend(cmd *cobra.Command, scopeName, eventName, payload string, allowRoles []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("invalid JSON payload")
	}
	allowed, err := parseRoles(allowRoles)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	s, err := newSession(ctx, logging.Discard())
	if err != nil {
		return err
	}
	defer s.Close()

	scope, err := s.rt.CreateScope(scopeName, allowed...)
	if err != nil {
		return err
	}
	if err := s.start(ctx); err != nil {
		return err
	}

	evt, err := scope.SendEvent(ctx, eventName, json.RawMessage(payload))
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Event sent!\n")
	fmt.Fprintf(out, "Scope: %s\n", scopeName)
	fmt.Fprintf(out, "Event: %s\n", evt.Name)
	fmt.Fprintf(out, "Client ID: %s\n", evt.ClientID)
	fmt.Fprintf(out, "Timestamp: %d\n", evt.Timestamp)
	return nil
}
