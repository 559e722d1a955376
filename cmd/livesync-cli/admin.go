package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
		Long:  "Administrative commands for monitoring the relay",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clients",
		Short: "List all connected clients",
		RunE:  runAdminClients,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show relay statistics",
		RunE:  runAdminStats,
	})

	return cmd
}

func runAdminClients(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.AdminListClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(response.Clients) == 0 {
		fmt.Fprintln(out, "No clients currently connected")
		return nil
	}
	for _, m := range response.Clients {
		fmt.Fprintf(out, "%s\t%v\t%s\n", m.ClientID, m.Roles, m.ConnectedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.AdminGetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📊 Relay Statistics:\n\n")
	fmt.Fprintf(out, "Connected Clients: %d\n", response.ConnectedClients)
	fmt.Fprintf(out, "Total Joins: %d\n", response.TotalJoins)
	fmt.Fprintf(out, "Signals Relayed: %d\n", response.SignalsRelayed)
	fmt.Fprintf(out, "Deliveries Failed: %d\n", response.DeliveriesFailed)
	fmt.Fprintf(out, "Rate Limited: %d\n", response.RateLimited)
	fmt.Fprintf(out, "Rejected: %d\n", response.Rejected)
	fmt.Fprintf(out, "Uptime: %s\n", response.Uptime)
	return nil
}
