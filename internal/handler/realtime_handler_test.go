package handler_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/labrecord-api/internal/realtime"
)

func listen(t *testing.T, env *apiEnv) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = env.app.Listener(ln) }()
	t.Cleanup(func() { _ = env.app.Shutdown() })
	return ln.Addr().String()
}

func readEnvelope(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env realtime.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestRealtimeSocketDeliversInboxEvents(t *testing.T) {
	env := setupAPI(t)
	addr := listen(t, env)

	_, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/api/v1/realtime/ws", addr), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	url := fmt.Sprintf("ws://%s/api/v1/realtime/ws?token=%s", addr, env.studentToken(t))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, realtime.EventConnected, readEnvelope(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": realtime.EventJoinUser, "data": env.student.ID + 1}))
	require.Equal(t, realtime.EventError, readEnvelope(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": realtime.EventJoinUser, "data": env.student.ID}))
	joined := readEnvelope(t, conn)
	require.Equal(t, realtime.EventJoined, joined.Event)

	_, err = env.notify.Notify(context.Background(), env.student.ID, "viva_scheduled", "Viva booked")
	require.NoError(t, err)

	pushed := readEnvelope(t, conn)
	require.Equal(t, realtime.EventNotification, pushed.Event)
	require.Equal(t, realtime.UserRoom(env.student.ID), pushed.Room)
	require.Contains(t, string(pushed.Data), "Viva booked")
}

func TestRealtimeClassRoomsStayWithinSchool(t *testing.T) {
	env := setupAPI(t)
	addr := listen(t, env)

	dial := func(bearer string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/api/v1/realtime/ws?token=%s", addr, bearer), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		require.Equal(t, realtime.EventConnected, readEnvelope(t, conn).Event)
		return conn
	}
	joinClass := func(conn *websocket.Conn) realtime.Envelope {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": realtime.EventJoinClass, "data": env.class.ID}))
		return readEnvelope(t, conn)
	}

	own := dial(env.teacherToken(t))
	require.Equal(t, realtime.EventJoined, joinClass(own).Event)

	foreign := dial(schoolToken(t, 300, "teacher", testSchool+1))
	require.Equal(t, realtime.EventError, joinClass(foreign).Event)
}

func TestRealtimeEndpointRejectsPlainRequests(t *testing.T) {
	env := setupAPI(t)

	status, _ := env.call(t, http.MethodGet, "/api/v1/realtime/ws", env.studentToken(t), nil)
	require.Equal(t, http.StatusUpgradeRequired, status)
}
