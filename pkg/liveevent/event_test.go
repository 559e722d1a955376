package liveevent

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		name     string
		current  Stamp
		received Stamp
		want     bool
	}{
		{"greater timestamp wins", Stamp{100, "b"}, Stamp{200, "a"}, true},
		{"older timestamp loses", Stamp{200, "a"}, Stamp{100, "z"}, false},
		{"tie goes to greater client id", Stamp{100, "a"}, Stamp{100, "b"}, true},
		{"tie loses to smaller client id", Stamp{100, "b"}, Stamp{100, "a"}, false},
		{"identical stamp is not newer", Stamp{100, "a"}, Stamp{100, "a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNewer(tt.current, tt.received))
		})
	}
}

func TestIsNewer_Deterministic(t *testing.T) {
	a := Stamp{Timestamp: 500, ClientID: "client-a"}
	b := Stamp{Timestamp: 500, ClientID: "client-b"}

	// Exactly one side wins regardless of which arrived first
	assert.NotEqual(t, IsNewer(a, b), IsNewer(b, a))
}

type cursor struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestEncodeDecode(t *testing.T) {
	evt := LiveEvent[cursor]{Name: "move", Timestamp: 42, ClientID: "c1", Data: cursor{X: 3, Y: 4}}

	raw, err := Encode(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":3,"y":4}`, string(raw.Data))

	decoded, err := Decode[cursor](raw)
	require.NoError(t, err)
	assert.Equal(t, evt, decoded)
}

func TestDecode_EmptyPayload(t *testing.T) {
	decoded, err := Decode[cursor](RawEvent{Name: "move", ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, cursor{}, decoded.Data)
}

func TestDecode_InvalidPayload(t *testing.T) {
	_, err := Decode[cursor](RawEvent{Name: "move", Data: json.RawMessage(`"nope"`)})
	assert.Error(t, err)
}

func TestHasAnyRole(t *testing.T) {
	assert.True(t, HasAnyRole(nil, nil))
	assert.True(t, HasAnyRole([]Role{RoleAttendee}, []Role{RoleAttendee, RolePresenter}))
	assert.False(t, HasAnyRole([]Role{RoleAttendee}, []Role{RoleOrganizer}))
	assert.False(t, HasAnyRole(nil, []Role{RoleOrganizer}))
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&TransportError{Op: "submit", Err: cause})

	assert.ErrorIs(t, err, cause)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "submit", te.Op)
	assert.Contains(t, err.Error(), "connection reset")
}
