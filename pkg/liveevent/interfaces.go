package liveevent

import "context"

// Role is a capability tag attested by the role verifier.
type Role string

const (
	RoleOrganizer Role = "Organizer"
	RolePresenter Role = "Presenter"
	RoleAttendee  Role = "Attendee"
	RoleGuest     Role = "Guest"
)

// HasAnyRole reports whether any of the held roles is in the allowed set.
// An empty allowed set admits everyone.
func HasAnyRole(held, allowed []Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, h := range held {
		for _, a := range allowed {
			if h == a {
				return true
			}
		}
	}
	return false
}

// TimestampProvider supplies the shared clock used to stamp events.
type TimestampProvider interface {
	// GetTimestamp returns the current time in milliseconds since the Unix epoch.
	GetTimestamp() int64

	// GetMaxTimestampError returns the upper bound, in milliseconds, on clock
	// disagreement between any two clients.
	GetMaxTimestampError() int64
}

// RoleVerifier attests whether a client holds one of a set of roles.
type RoleVerifier interface {
	// VerifyRolesAllowed reports whether clientID holds at least one allowed role.
	// Unknown or disconnected clients resolve to false with a nil error; a non-nil
	// error is reserved for infrastructure failures and is treated as a denial.
	VerifyRolesAllowed(ctx context.Context, clientID string, allowed []Role) (bool, error)
}
