package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

func newRosterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Inspect the clients connected to the session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clients",
		Short: "List connected clients and their roles",
		RunE:  runRosterClients,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "roles <client-id>",
		Short: "Show the roles attested for one client",
		Args:  cobra.ExactArgs(1),
		RunE:  runRosterRoles,
	})

	return cmd
}

func runRosterClients(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	members, err := client.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(members) == 0 {
		fmt.Fprintln(out, "No clients currently connected")
		return nil
	}

	fmt.Fprintf(out, "Found %d connected client(s):\n\n", len(members))
	for i, m := range members {
		fmt.Fprintf(out, "%d. Client ID: %s\n", i+1, m.ClientID)
		fmt.Fprintf(out, "   Roles: %v\n", m.Roles)
		fmt.Fprintf(out, "   Connected At: %s\n", m.ConnectedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runRosterRoles(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	roles, err := client.GetClientRoles(ctx, args[0])
	if errors.Is(err, liveevent.ErrClientNotFound) {
		return fmt.Errorf("client %s is not connected", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get roles: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", args[0], roles)
	return nil
}
