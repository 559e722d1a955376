package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/livesync-go/internal/logging"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

func newWatchCommand() *cobra.Command {
	var (
		scope      string
		events     []string
		allowRoles []string
		count      int
		pretty     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print events sent to a scope in real time",
		Long: `Join the session and print every accepted event with one of the given names.
Events from clients without an allowed role are dropped before they are printed.
Press Ctrl+C to stop watching.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, scope, events, allowRoles, count, pretty)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Scope name (required)")
	cmd.Flags().StringSliceVar(&events, "event", nil, "Event name to watch (repeatable, required)")
	cmd.Flags().StringSliceVar(&allowRoles, "allow-role", nil, "Role the scope admits (repeatable; none admits everyone)")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 watches until interrupted)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty print JSON payloads")
	for _, name := range []string{"scope", "event"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("Failed to mark %s as required: %v", name, err))
		}
	}

	return cmd
}

func runWatch(cmd *cobra.Command, scopeName string, eventNames, allowRoles []string, count int, pretty bool) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	allowed, err := parseRoles(allowRoles)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := newSession(setupCtx, logging.Discard())
	if err != nil {
		return err
	}
	defer s.Close()

	scope, err := s.rt.CreateScope(scopeName, allowed...)
	if err != nil {
		return err
	}

	out := &lockedWriter{w: cmd.OutOrStdout()}
	var (
		mu       sync.Mutex
		received int
		done     = make(chan struct{})
	)
	for _, name := range eventNames {
		scope.OnEvent(name, func(evt liveevent.RawEvent, local bool) {
			mu.Lock()
			defer mu.Unlock()
			if count > 0 && received >= count {
				return
			}
			received++
			printEvent(out, scopeName, evt, received, pretty)
			if count > 0 && received == count {
				close(done)
			}
		})
	}

	if err := s.start(setupCtx); err != nil {
		return err
	}
	fmt.Fprintf(out, "🌊 Watching scope %s for %v as %s. Press Ctrl+C to stop.\n", scopeName, eventNames, s.rt.ClientID())

	select {
	case <-ctx.Done():
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "✅ Watch stopped. Received %d events.\n", received)
	return nil
}

func printEvent(out io.Writer, scopeName string, evt liveevent.RawEvent, n int, pretty bool) {
	fmt.Fprintf(out, "📨 Event #%d:\n", n)
	fmt.Fprintf(out, "   Scope: %s\n", scopeName)
	fmt.Fprintf(out, "   Name: %s\n", evt.Name)
	fmt.Fprintf(out, "   From: %s\n", evt.ClientID)
	fmt.Fprintf(out, "   Time: %s\n", time.UnixMilli(evt.Timestamp).Format("2006-01-02 15:04:05.000"))

	data := []byte(evt.Data)
	if pretty {
		var v any
		if err := json.Unmarshal(evt.Data, &v); err == nil {
			if indented, err := json.MarshalIndent(v, "            ", "  "); err == nil {
				data = append([]byte("\n            "), indented...)
			}
		}
	}
	if len(data) == 0 {
		data = []byte("null")
	}
	fmt.Fprintf(out, "   Payload: %s\n\n", data)
}
