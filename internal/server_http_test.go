package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomrelay/internal/history"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(zap.NewNop(), ServerOptions{EventLimit: 1000, EventWindow: time.Second})
	require.NoError(t, err)
	return srv
}

func TestListUsersEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.registry.Register("c1", "u1", "Alice", "cat")
	srv.registry.Register("c2", "u2", "Bob", "")

	rec := httptest.NewRecorder()
	srv.Router("/ws").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp usersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "Alice", resp.Users[0].Name)
	assert.True(t, resp.Users[0].Online)
	assert.Equal(t, "Bob", resp.Users[1].Name)
}

func TestRoomHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.history.Append("r1", history.Message{
		ID: "m1", RoomID: "r1", SenderID: "u1", SenderName: "Alice",
		MsgType: history.KindText, Text: "hello", Timestamp: time.Now().UTC(),
	})

	rec := httptest.NewRecorder()
	srv.Router("/ws").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp roomHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.RoomID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hello", resp.Messages[0].Text)
}

func TestRoomHistoryEndpointUnknownRoom(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router("/ws").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/nothing/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp roomHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Messages)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router("/ws")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	srv.metrics.IncEvent()
	srv.metrics.IncMessage()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats["events_total"])
	assert.Equal(t, int64(1), stats["messages_total"])
}

// TestWebSocketRoundTrip exercises the full wire path: upgrade, identify,
// join, send, receive, for a single connection against a live relay loop.
func TestWebSocketRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Relay().Run(ctx) }()

	ts := httptest.NewServer(srv.Router("/ws"))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		return decoded
	}

	require.NoError(t, conn.WriteJSON(ClientEvent{Type: EventIdentify, ID: "u1", Name: "Alice"}))
	roster := readEvent()
	require.Equal(t, EventRoster, roster["type"])
	require.Len(t, roster["users"].([]any), 1)

	require.NoError(t, conn.WriteJSON(ClientEvent{Type: EventJoinRoom, RoomID: "r1"}))
	replay := readEvent()
	require.Equal(t, EventHistory, replay["type"])
	assert.Empty(t, replay["messages"])

	require.NoError(t, conn.WriteJSON(ClientEvent{Type: EventSendMessage, RoomID: "r1", Text: "over the wire"}))
	msg := readEvent()
	require.Equal(t, EventMessage, msg["type"])
	assert.Equal(t, "over the wire", msg["text"])
	assert.Equal(t, "u1", msg["senderId"])

	// the REST surface sees the message the socket just produced.
	resp, err := http.Get(ts.URL + "/api/rooms/r1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	var hist roomHistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "over the wire", hist.Messages[0].Text)
}
