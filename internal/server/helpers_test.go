package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-pickup/internal/stats"
	"github.com/npezzotti/go-pickup/internal/testutil"
	"github.com/npezzotti/go-pickup/internal/types"
	"github.com/stretchr/testify/require"
)

// newTestHub creates a hub whose rooms expire after idleTimeout. The hub
// is shut down when the test ends.
func newTestHub(t *testing.T, idleTimeout time.Duration) *Hub {
	t.Helper()

	logger := testutil.TestLogger(t)
	su := stats.NewPermissiveMock()
	hub := NewHub(logger, NewRoomStore(logger, su, idleTimeout), su)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})
	return hub
}

// joinTestSession joins a connectionless session to roomID and consumes
// its join snapshot.
func joinTestSession(t *testing.T, hub *Hub, roomID string) (*Session, types.State, []types.Event) {
	t.Helper()

	sess := NewSession(nil, hub, roomID, "tester", hub.log)
	require.NoError(t, hub.OnJoin(sess, roomID), "expected join to succeed")

	state := expectState(t, sess)
	timeline := expectTimeline(t, sess)
	return sess, state, timeline
}

func nextMessage(t *testing.T, sess *Session) *ServerMessage {
	t.Helper()

	select {
	case msg := <-sess.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timeout: no message for session %s", sess.id)
		return nil
	}
}

func expectState(t *testing.T, sess *Session) types.State {
	t.Helper()

	msg := nextMessage(t, sess)
	require.Equal(t, EventStateUpdate, msg.Event, "expected a state-update frame")
	state, ok := msg.Data.(types.State)
	require.True(t, ok, "expected state payload, got %T", msg.Data)
	return state
}

func expectTimeline(t *testing.T, sess *Session) []types.Event {
	t.Helper()

	msg := nextMessage(t, sess)
	require.Equal(t, EventTimelineSync, msg.Event, "expected a timeline-sync frame")
	events, ok := msg.Data.([]types.Event)
	require.True(t, ok, "expected timeline payload, got %T", msg.Data)
	return events
}

func expectNoMessage(t *testing.T, sess *Session) {
	t.Helper()

	select {
	case msg := <-sess.send:
		t.Errorf("expected no message for session %s, got %q", sess.id, msg.Event)
	default:
	}
}
