package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTimeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Show the relay clock and the local offset from it",
		RunE:  runTime,
	}
}

func runTime(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	sent := time.Now()
	serverMillis, err := client.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to get server time: %w", err)
	}
	rtt := time.Since(sent)
	local := sent.Add(rtt / 2).UnixMilli()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Time: %s (%d)\n", time.UnixMilli(serverMillis).Format("2006-01-02 15:04:05.000"), serverMillis)
	fmt.Fprintf(out, "Offset: %dms\n", serverMillis-local)
	fmt.Fprintf(out, "Round Trip: %s\n", rtt.Round(time.Millisecond))
	return nil
}
