package eventscope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/livesync-go/internal/testutil"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

type received struct {
	evt   liveevent.RawEvent
	local bool
}

// recorder collects listener invocations from any goroutine.
type recorder struct {
	mu     sync.Mutex
	events []received
}

func (r *recorder) listen(evt liveevent.RawEvent, local bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, received{evt: evt, local: local})
}

func (r *recorder) snapshot() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.events...)
}

func (r *recorder) count() int {
	return len(r.snapshot())
}

func connectedSignaler(t *testing.T, hub *testutil.MockSignalerHub, id string) *testutil.MockSignaler {
	t.Helper()
	s := hub.NewSignaler(id)
	_, err := s.Connect(context.Background())
	require.NoError(t, err)
	return s
}

func newTestScope(t *testing.T, signaler *testutil.MockSignaler, verifier liveevent.RoleVerifier, opts ...Option) *Scope {
	t.Helper()
	scope, err := New("cursor", signaler, testutil.NewMockTimestampProvider(1000, 50), verifier, opts...)
	require.NoError(t, err)
	t.Cleanup(scope.Dispose)
	return scope
}

func TestNew_Validation(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	clock := testutil.NewMockTimestampProvider(0, 0)

	_, err := New("", hub.NewSignaler("a"), clock, nil)
	assert.Error(t, err)
	_, err = New("scope", nil, clock, nil)
	assert.Error(t, err)
	_, err = New("scope", hub.NewSignaler("a"), nil, nil)
	assert.Error(t, err)
}

func TestScope_FanOutAndLoopBack(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	verifier := testutil.NewAllowAllRoleVerifier()
	scopeA := newTestScope(t, connectedSignaler(t, hub, "client-a"), verifier, WithAllowedRoles(liveevent.RoleAttendee))
	scopeB := newTestScope(t, connectedSignaler(t, hub, "client-b"), verifier, WithAllowedRoles(liveevent.RoleAttendee))

	var recA, recB recorder
	scopeA.OnEvent("move", recA.listen)
	scopeB.OnEvent("move", recB.listen)

	ctx := context.Background()
	_, err := scopeA.SendEvent(ctx, "move", map[string]int{"x": 1})
	require.NoError(t, err)
	_, err = scopeB.SendEvent(ctx, "move", map[string]int{"x": 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recA.count() == 2 && recB.count() == 2 },
		time.Second, 5*time.Millisecond)

	for _, rec := range []*recorder{&recA, &recB} {
		senders := map[string]bool{}
		for _, r := range rec.snapshot() {
			senders[r.evt.ClientID] = r.local
		}
		assert.Len(t, senders, 2)
	}

	// Each side sees its own event as local and the peer's as remote
	localA := map[string]bool{}
	for _, r := range recA.snapshot() {
		localA[r.evt.ClientID] = r.local
	}
	assert.True(t, localA["client-a"])
	assert.False(t, localA["client-b"])
}

func TestScope_RoleDenied(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	verifier := testutil.NewMockRoleVerifier()
	verifier.SetRoles("client-b", liveevent.RoleAttendee)

	denied := make(chan error, 1)
	scopeA := newTestScope(t, connectedSignaler(t, hub, "client-a"), verifier,
		WithAllowedRoles(liveevent.RolePresenter),
		WithDeniedHook(func(evt liveevent.RawEvent, err error) { denied <- err }),
	)
	scopeB := newTestScope(t, connectedSignaler(t, hub, "client-b"), verifier)

	var rec recorder
	scopeA.OnEvent("advance", rec.listen)

	_, err := scopeB.SendEvent(context.Background(), "advance", struct{}{})
	require.NoError(t, err)

	select {
	case err := <-denied:
		assert.ErrorIs(t, err, liveevent.ErrRoleVerificationDenied)
	case <-time.After(time.Second):
		t.Fatal("denied hook was not called")
	}
	assert.Equal(t, 0, rec.count(), "listener must not see events from unauthorized senders")
}

func TestScope_EventRolesOverride(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	verifier := testutil.NewMockRoleVerifier()
	verifier.SetRoles("client-b", liveevent.RoleAttendee)

	scopeA := newTestScope(t, connectedSignaler(t, hub, "client-a"), verifier,
		WithAllowedRoles(liveevent.RolePresenter),
		WithEventRoles("raise-hand", liveevent.RoleAttendee),
	)
	scopeB := newTestScope(t, connectedSignaler(t, hub, "client-b"), verifier)

	var rec recorder
	scopeA.OnEvent("raise-hand", rec.listen)

	_, err := scopeB.SendEvent(context.Background(), "raise-hand", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScope_VerifierErrorDenies(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	verifier := testutil.NewMockRoleVerifier()
	verifier.SetError(errors.New("host unreachable"))

	denied := make(chan error, 1)
	scopeA := newTestScope(t, connectedSignaler(t, hub, "client-a"), verifier,
		WithAllowedRoles(liveevent.RoleAttendee),
		WithDeniedHook(func(evt liveevent.RawEvent, err error) { denied <- err }),
	)
	scopeB := newTestScope(t, connectedSignaler(t, hub, "client-b"), verifier)

	var rec recorder
	scopeA.OnEvent("move", rec.listen)
	_, err := scopeB.SendEvent(context.Background(), "move", 1)
	require.NoError(t, err)

	select {
	case err := <-denied:
		assert.ErrorIs(t, err, liveevent.ErrRoleVerificationDenied)
		assert.Contains(t, err.Error(), "host unreachable")
	case <-time.After(time.Second):
		t.Fatal("denied hook was not called")
	}
	assert.Equal(t, 0, rec.count())
}

func TestScope_SendEventWithoutListeners(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	scope := newTestScope(t, connectedSignaler(t, hub, "client-a"), nil)

	evt, err := scope.SendEvent(context.Background(), "ping", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "client-a", evt.ClientID)
	assert.Equal(t, int64(1000), evt.Timestamp)
	assert.Equal(t, "ping", evt.Name)
	assert.JSONEq(t, `{}`, string(evt.Data))
}

func TestScope_SendEventNotConnected(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	scope := newTestScope(t, hub.NewSignaler("client-a"), nil)

	_, err := scope.SendEvent(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, liveevent.ErrNotConnected)
}

func TestScope_SendEventTransportError(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	signaler := connectedSignaler(t, hub, "client-a")
	scope := newTestScope(t, signaler, nil)

	cause := errors.New("socket closed")
	signaler.FailSubmits(cause)

	_, err := scope.SendEvent(context.Background(), "ping", nil)
	var te *liveevent.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, cause)
}

func TestScope_SendLocalEvent(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	local := hub.NewSignaler("client-a")
	peer := connectedSignaler(t, hub, "client-b")

	scope := newTestScope(t, local, nil)
	peerScope := newTestScope(t, peer, nil)

	var rec, peerRec recorder
	scope.OnEvent("hint", rec.listen)
	peerScope.OnEvent("hint", peerRec.listen)

	// Not connected yet: the placeholder id is used
	evt, err := scope.SendLocalEvent(context.Background(), "hint", "hello")
	require.NoError(t, err)
	assert.Equal(t, "local", evt.ClientID)

	require.Equal(t, 1, rec.count())
	assert.True(t, rec.snapshot()[0].local)
	assert.Equal(t, 0, peerRec.count())
	assert.Equal(t, 0, local.Submitted())
}

func TestScope_OffEvent(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	scope := newTestScope(t, connectedSignaler(t, hub, "client-a"), nil)

	var first, second recorder
	sub := scope.OnEvent("move", first.listen)
	scope.OnEvent("move", second.listen)
	assert.Equal(t, 2, scope.ListenerCount("move"))

	assert.True(t, scope.OffEvent(sub))
	assert.False(t, scope.OffEvent(sub))

	_, err := scope.SendEvent(context.Background(), "move", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, first.count())
	assert.Equal(t, 1, second.count())
}

func TestScope_IgnoresForeignAndMalformedSignals(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	scope := newTestScope(t, connectedSignaler(t, hub, "client-a"), nil)
	peer := connectedSignaler(t, hub, "client-b")

	var rec recorder
	scope.OnEvent("move", rec.listen)

	ctx := context.Background()
	require.NoError(t, peer.SubmitSignal(ctx, "other:move", []byte(`{"name":"move","clientId":"client-b"}`)))
	require.NoError(t, peer.SubmitSignal(ctx, "cursor:move", []byte(`not json`)))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestScope_DropsSpoofedSender(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	denied := make(chan liveevent.RawEvent, 1)
	scope := newTestScope(t, connectedSignaler(t, hub, "client-a"), nil,
		WithDeniedHook(func(evt liveevent.RawEvent, err error) { denied <- evt }))
	peer := connectedSignaler(t, hub, "client-b")

	var rec recorder
	scope.OnEvent("move", rec.listen)

	content := []byte(`{"name":"move","timestamp":5,"clientId":"organizer","data":1}`)
	require.NoError(t, peer.SubmitSignal(context.Background(), "cursor:move", content))

	select {
	case evt := <-denied:
		assert.Equal(t, "organizer", evt.ClientID)
	case <-time.After(time.Second):
		t.Fatal("spoofed event was not reported")
	}
	assert.Equal(t, 0, rec.count())
}

func TestScope_PerSenderOrderUnderSlowVerification(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	verifier := testutil.NewAllowAllRoleVerifier()
	verifier.SetDelay("slow", 30*time.Millisecond)

	receiver := newTestScope(t, connectedSignaler(t, hub, "receiver"), verifier, WithAllowedRoles(liveevent.RoleAttendee))
	slow := newTestScope(t, connectedSignaler(t, hub, "slow"), nil)
	fast := newTestScope(t, connectedSignaler(t, hub, "fast"), nil)

	var rec recorder
	receiver.OnEvent("seq", rec.listen)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := slow.SendEvent(ctx, "seq", i)
		require.NoError(t, err)
	}
	_, err := fast.SendEvent(ctx, "seq", 0)
	require.NoError(t, err)

	// The fast sender is not stuck behind the slow sender's verifications
	require.Eventually(t, func() bool {
		for _, r := range rec.snapshot() {
			if r.evt.ClientID == "fast" {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, time.Millisecond)

	require.Eventually(t, func() bool { return rec.count() == 4 }, time.Second, 5*time.Millisecond)

	var slowOrder []string
	for _, r := range rec.snapshot() {
		if r.evt.ClientID == "slow" {
			slowOrder = append(slowOrder, string(r.evt.Data))
		}
	}
	assert.Equal(t, []string{"0", "1", "2"}, slowOrder)
}

func TestScope_Dispose(t *testing.T) {
	hub := testutil.NewMockSignalerHub()
	verifier := testutil.NewAllowAllRoleVerifier()
	verifier.SetDelay("client-b", 20*time.Millisecond)

	scope := newTestScope(t, connectedSignaler(t, hub, "client-a"), verifier, WithAllowedRoles(liveevent.RoleAttendee))
	peer := newTestScope(t, connectedSignaler(t, hub, "client-b"), nil)

	var rec recorder
	scope.OnEvent("move", rec.listen)

	_, err := peer.SendEvent(context.Background(), "move", 1)
	require.NoError(t, err)

	// Dispose while the verification is in flight
	scope.Dispose()
	scope.Dispose()
	assert.True(t, scope.Disposed())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, scope.ListenerCount("move"))

	_, err = scope.SendEvent(context.Background(), "move", 1)
	assert.ErrorIs(t, err, liveevent.ErrScopeDisposed)
	_, err = scope.SendLocalEvent(context.Background(), "move", 1)
	assert.ErrorIs(t, err, liveevent.ErrScopeDisposed)
}
