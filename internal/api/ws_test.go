package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-pickup/internal/server"
	"github.com/npezzotti/go-pickup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialRoom(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "expected websocket dial to succeed")
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f), "expected a frame")
	return f
}

func readState(t *testing.T, conn *websocket.Conn) types.State {
	t.Helper()

	f := readFrame(t, conn)
	require.Equal(t, server.EventStateUpdate, f.Event)
	var state types.State
	require.NoError(t, json.Unmarshal(f.Data, &state))
	return state
}

func readTimeline(t *testing.T, conn *websocket.Conn) []types.Event {
	t.Helper()

	f := readFrame(t, conn)
	require.Equal(t, server.EventTimelineSync, f.Event)
	var events []types.Event
	require.NoError(t, json.Unmarshal(f.Data, &events))
	return events
}

func sendChangeState(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()

	msg := `{"event":"change-state","data":` + payload + `}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func Test_serveWs(t *testing.T) {
	app := newTestApp(t, &MockInviter{})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	a1 := dialRoom(t, srv, "?room=testA&role=shopper")
	assert.Equal(t, types.State{}, readState(t, a1), "expected default state on join")
	assert.Empty(t, readTimeline(t, a1))

	a2 := dialRoom(t, srv, "?room=testA&role=driver")
	readState(t, a2)
	readTimeline(t, a2)

	b1 := dialRoom(t, srv, "?room=testB")
	readState(t, b1)
	readTimeline(t, b1)

	t.Run("room isolation", func(t *testing.T) {
		sendChangeState(t, a1, `{"status":2,"meetPoint":"Room-A","timelineEvent":"room A call"}`)

		for _, conn := range []*websocket.Conn{a1, a2} {
			state := readState(t, conn)
			assert.Equal(t, 2, state.Status)
			assert.Equal(t, "Room-A", state.MeetPoint)
			timeline := readTimeline(t, conn)
			require.Len(t, timeline, 1)
			assert.Equal(t, "room A call", timeline[0].Event)
		}

		snap, err := app.hub.Snapshot("testB")
		require.NoError(t, err)
		assert.Equal(t, 0, snap.State.Status, "expected room B not to be affected")
	})

	t.Run("driver update reaches shopper", func(t *testing.T) {
		sendChangeState(t, a2, `{"status":3,"eta":3,"targetTime":1700000180000,"timelineEvent":"left (3 min)"}`)

		state := readState(t, a1)
		require.NotNil(t, state.ETA)
		require.NotNil(t, state.TargetTime)
		assert.Equal(t, 3, state.Status)
		assert.Equal(t, 3, *state.ETA)
		assert.Equal(t, int64(1700000180000), *state.TargetTime)
		assert.Len(t, readTimeline(t, a1), 2)

		readState(t, a2)
		readTimeline(t, a2)
	})

	t.Run("reset", func(t *testing.T) {
		sendChangeState(t, a2, `0`)

		state := readState(t, a1)
		assert.Equal(t, types.State{
			Status:     0,
			MeetPoint:  "Room-A",
			TargetTime: state.TargetTime,
		}, state, "expected reset to clear eta and msg only")
		require.NotNil(t, state.TargetTime, "expected targetTime to survive a reset")
		timeline := readTimeline(t, a1)
		require.Len(t, timeline, 3)
		assert.Equal(t, server.ResetEventLabel, timeline[2].Event)

		readState(t, a2)
		readTimeline(t, a2)
	})

	t.Run("malformed payload", func(t *testing.T) {
		sendChangeState(t, a1, `"nope"`)

		f := readFrame(t, a1)
		assert.Equal(t, server.EventError, f.Event)
		var payload server.ErrorPayload
		require.NoError(t, json.Unmarshal(f.Data, &payload))
		assert.Equal(t, http.StatusBadRequest, payload.Code)

		// the room is untouched and the connection still works
		sendChangeState(t, a1, `{"msg":"still here"}`)
		assert.Equal(t, "still here", readState(t, a1).Msg)
		readTimeline(t, a1)
		assert.Equal(t, "still here", readState(t, a2).Msg)
		readTimeline(t, a2)
	})

	t.Run("unparseable frame", func(t *testing.T) {
		require.NoError(t, a1.WriteMessage(websocket.TextMessage, []byte("{")))
		assert.Equal(t, server.EventError, readFrame(t, a1).Event)
	})

	t.Run("late joiner gets current snapshot", func(t *testing.T) {
		late := dialRoom(t, srv, "?room=testA")
		state := readState(t, late)
		assert.Equal(t, "still here", state.Msg)
		assert.Len(t, readTimeline(t, late), 3)
	})

	t.Run("disconnect leaves the room", func(t *testing.T) {
		b1.Close()
		assert.Eventually(t, func() bool {
			snap, err := app.hub.Snapshot("testB")
			return err == nil && snap.Sessions == 0
		}, 2*time.Second, 20*time.Millisecond, "expected the closed session to leave")
	})
}

func Test_serveWs_DefaultRoom(t *testing.T) {
	app := newTestApp(t, &MockInviter{})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	conn := dialRoom(t, srv, "")
	readState(t, conn)
	readTimeline(t, conn)

	snap, err := app.hub.Snapshot(server.DefaultRoomID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Sessions, "expected the session in the default room")
}

func Test_serveWs_RateLimit(t *testing.T) {
	app := newTestApp(t, &MockInviter{})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	conn := dialRoom(t, srv, "?room=flood")
	readState(t, conn)
	readTimeline(t, conn)

	const sent = 40
	for i := 0; i < sent; i++ {
		sendChangeState(t, conn, `{"msg":"spam"}`)
	}

	limited := false
	for i := 0; i < 2*sent && !limited; i++ {
		f := readFrame(t, conn)
		if f.Event != server.EventError {
			continue
		}
		var payload server.ErrorPayload
		require.NoError(t, json.Unmarshal(f.Data, &payload))
		limited = payload.Code == http.StatusTooManyRequests
	}
	assert.True(t, limited, "expected a burst past the limit to be rejected")
}

func Test_serveWs_IgnoredFields(t *testing.T) {
	app := newTestApp(t, &MockInviter{})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	sender := dialRoom(t, srv, "?room=typed&role=driver")
	readState(t, sender)
	readTimeline(t, sender)
	peer := dialRoom(t, srv, "?room=typed&role=shopper")
	readState(t, peer)
	readTimeline(t, peer)

	sendChangeState(t, sender, `{"status":3,"eta":"5","msg":"on my way"}`)

	for _, conn := range []*websocket.Conn{sender, peer} {
		state := readState(t, conn)
		assert.Equal(t, 3, state.Status, "expected valid fields to be applied")
		assert.Equal(t, "on my way", state.Msg)
		assert.Nil(t, state.ETA)
		readTimeline(t, conn)
	}

	f := readFrame(t, sender)
	require.Equal(t, server.EventError, f.Event, "expected the sender to be told about the ignored field")
	var payload server.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, http.StatusBadRequest, payload.Code)
	assert.Contains(t, payload.Error, "eta")

	// the peer's next frame is the following broadcast, not an error
	sendChangeState(t, sender, `{"status":4}`)
	assert.Equal(t, 4, readState(t, peer).Status)
}

func Test_serveWs_RateLimitCountsEveryFrame(t *testing.T) {
	app := newTestApp(t, &MockInviter{})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	conn := dialRoom(t, srv, "?room=garbage")
	readState(t, conn)
	readTimeline(t, conn)

	const sent = 40
	for i := 0; i < sent; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	}

	limited := false
	for i := 0; i < sent && !limited; i++ {
		f := readFrame(t, conn)
		require.Equal(t, server.EventError, f.Event)
		var payload server.ErrorPayload
		require.NoError(t, json.Unmarshal(f.Data, &payload))
		limited = payload.Code == http.StatusTooManyRequests
	}
	assert.True(t, limited, "expected unparseable frames to be rate limited too")
}
