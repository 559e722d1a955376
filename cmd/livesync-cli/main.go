package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/livesync-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	roleNames []string
	timeout   time.Duration
	noAuth    bool

	// grpcTarget switches session commands to the gRPC relay
	grpcTarget string

	// Global client instance
	client *httpclient.Client
)

var knownRoles = []liveevent.Role{
	liveevent.RoleOrganizer,
	liveevent.RolePresenter,
	liveevent.RoleAttendee,
	liveevent.RoleGuest,
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "livesync-cli",
		Short: "LiveSync relay command line interface",
		Long: `livesync-cli talks to a LiveSync relay. It can authenticate, inspect the
session roster, send and watch scoped events, and join a shared presence list.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081", "Relay server URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT token (if already authenticated)")
	rootCmd.PersistentFlags().StringSliceVar(&roleNames, "role", nil, "Role to request at login (repeatable)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&grpcTarget, "grpc", "", "gRPC relay address for send, watch and presence (default: websocket)")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for development with --no-auth servers)")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newTimeCommand())
	rootCmd.AddCommand(newRosterCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newPresenceCommand())
	rootCmd.AddCommand(newAdminCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	if !noAuth && clientID == "" {
		return fmt.Errorf("client-id is required (unless using --no-auth)")
	}

	roles, err := parseRoles(roleNames)
	if err != nil {
		return err
	}

	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID(),
		Roles:     roles,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// Any token passes a --no-auth server
		client.SetToken("no-auth-mode")
	}
	return nil
}

// effectiveClientID is the --client-id flag, or the id a --no-auth server assigns.
func effectiveClientID() string {
	if noAuth && clientID == "" {
		return "dev-client"
	}
	return clientID
}

// requireAuthentication checks if the client is authenticated
func requireAuthentication() error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if noAuth {
		return nil
	}
	if !client.IsAuthenticated() {
		return fmt.Errorf("not authenticated - run 'livesync-cli auth' first or provide --token")
	}
	return nil
}

func parseRoles(names []string) ([]liveevent.Role, error) {
	roles := make([]liveevent.Role, 0, len(names))
	for _, name := range names {
		role := liveevent.Role(name)
		if !slices.Contains(knownRoles, role) {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// lockedWriter serializes writes from event callbacks and the command itself.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
