package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomrelay/internal/history"
)

func newTestRelay() *Relay {
	logger := zap.NewNop()
	registry := NewRegistry(logger)
	rooms := NewDirectory()
	return NewRelay(logger, registry, rooms, history.NewLog(), NewMetrics())
}

// testConn drives the relay synchronously, bypassing the queue, so every
// assertion sees the state after the command completed.
type testConn struct {
	relay *Relay
	sess  *Session
}

func connect(r *Relay, id string) *testConn {
	sess := newSession(id, nil)
	r.process(command{op: opConnect, sess: sess})
	return &testConn{relay: r, sess: sess}
}

func (c *testConn) dispatch(ev ClientEvent) {
	c.relay.process(command{op: opEvent, sess: c.sess, ev: ev})
}

func (c *testConn) disconnect() {
	c.relay.process(command{op: opDisconnect, sess: c.sess})
}

func (c *testConn) identify(id, name string) {
	c.dispatch(ClientEvent{Type: EventIdentify, ID: id, Name: name})
}

func (c *testConn) join(roomID string) {
	c.dispatch(ClientEvent{Type: EventJoinRoom, RoomID: roomID})
}

// recv pops the next frame already sitting in the send buffer.
func (c *testConn) recv(t *testing.T) map[string]any {
	t.Helper()
	select {
	case payload := <-c.sess.send:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		return decoded
	default:
		t.Fatal("expected a frame, send buffer is empty")
		return nil
	}
}

func (c *testConn) requireNoFrame(t *testing.T) {
	t.Helper()
	select {
	case payload := <-c.sess.send:
		t.Fatalf("expected no frame, got %s", payload)
	default:
	}
}

func (c *testConn) drain() {
	for {
		select {
		case <-c.sess.send:
		default:
			return
		}
	}
}

func TestIdentifyRosterAndPresenceBroadcast(t *testing.T) {
	relay := newTestRelay()

	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	roster := alice.recv(t)
	require.Equal(t, EventRoster, roster["type"])
	users := roster["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "Alice", users[0].(map[string]any)["name"])

	bob := connect(relay, "c2")
	bob.identify("u2", "Bob")

	// Bob gets the full roster including himself, and nothing else.
	bobRoster := bob.recv(t)
	require.Equal(t, EventRoster, bobRoster["type"])
	require.Len(t, bobRoster["users"].([]any), 2)
	bob.requireNoFrame(t)

	// Alice gets the online announcement, not another roster.
	online := alice.recv(t)
	require.Equal(t, EventPresenceOnline, online["type"])
	assert.Equal(t, "u2", online["id"])
	assert.Equal(t, "Bob", online["name"])
	alice.requireNoFrame(t)
}

func TestIdentifyDefaultsUserIDToConnectionID(t *testing.T) {
	relay := newTestRelay()
	conn := connect(relay, "c9")
	conn.dispatch(ClientEvent{Type: EventIdentify, Name: "NoID"})
	roster := conn.recv(t)
	users := roster["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "c9", users[0].(map[string]any)["id"])
}

func TestJoinReplaysHistoryToCallerOnly(t *testing.T) {
	relay := newTestRelay()

	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	alice.drain()
	alice.dispatch(ClientEvent{Type: EventSendMessage, RoomID: "r1", Text: "first"})
	alice.dispatch(ClientEvent{Type: EventSendMessage, RoomID: "r1", Text: "second"})
	alice.drain()

	bob := connect(relay, "c2")
	bob.identify("u2", "Bob")
	bob.drain()
	alice.drain()
	bob.join("r1")

	replay := bob.recv(t)
	require.Equal(t, EventHistory, replay["type"])
	assert.Equal(t, "r1", replay["roomId"])
	messages := replay["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].(map[string]any)["text"])
	assert.Equal(t, "second", messages[1].(map[string]any)["text"])

	// the replay is never broadcast.
	alice.requireNoFrame(t)
}

func TestSendMessageScenario(t *testing.T) {
	relay := newTestRelay()

	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	bob := connect(relay, "c2")
	bob.identify("u2", "Bob")
	bob.join("r1")
	alice.drain()
	bob.drain()

	bob.dispatch(ClientEvent{Type: EventSendMessage, RoomID: "r1", Text: "hi"})

	msg := alice.recv(t)
	require.Equal(t, EventMessage, msg["type"])
	assert.Equal(t, "u2", msg["senderId"])
	assert.Equal(t, "Bob", msg["senderName"])
	assert.Equal(t, "hi", msg["text"])
	assert.Equal(t, "r1", msg["roomId"])
	assert.Equal(t, history.KindText, msg["msgType"])
	assert.NotEmpty(t, msg["id"])

	// sender receives its own message back: the server copy is authoritative.
	echo := bob.recv(t)
	assert.Equal(t, msg["id"], echo["id"])

	snap := relay.history.Snapshot("r1")
	require.Len(t, snap, 1)
	assert.Equal(t, "hi", snap[0].Text)
	assert.Equal(t, "u2", snap[0].SenderID)
}

func TestSendFileCarriesMetadata(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	alice.drain()

	alice.dispatch(ClientEvent{
		Type:     EventSendFile,
		RoomID:   "r1",
		FileName: "notes.txt",
		FileData: "aGVsbG8=",
		FileSize: 5,
	})
	msg := alice.recv(t)
	assert.Equal(t, history.KindFile, msg["msgType"])
	assert.Equal(t, "notes.txt", msg["fileName"])
	assert.Equal(t, float64(5), msg["fileSize"])

	snap := relay.history.Snapshot("r1")
	require.Len(t, snap, 1)
	assert.Equal(t, history.KindFile, snap[0].MsgType)
}

func TestUnidentifiedSendIsDropped(t *testing.T) {
	relay := newTestRelay()
	ghost := connect(relay, "c1")
	ghost.dispatch(ClientEvent{Type: EventSendMessage, RoomID: "r1", Text: "hello?"})
	ghost.requireNoFrame(t)
	assert.Empty(t, relay.history.RoomIDs())
}

func TestNonMemberSendIsDropped(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.drain()
	alice.dispatch(ClientEvent{Type: EventSendMessage, RoomID: "r1", Text: "not joined"})
	alice.requireNoFrame(t)
	assert.Equal(t, 0, relay.history.Len("r1"))
}

func TestTypingExcludesSenderAndIsEphemeral(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	bob := connect(relay, "c2")
	bob.identify("u2", "Bob")
	bob.join("r1")
	alice.drain()
	bob.drain()

	alice.dispatch(ClientEvent{Type: EventTypingStart, RoomID: "r1"})
	typing := bob.recv(t)
	require.Equal(t, EventTypingStart, typing["type"])
	assert.Equal(t, "u1", typing["userId"])
	assert.Equal(t, "Alice", typing["userName"])
	alice.requireNoFrame(t)

	alice.dispatch(ClientEvent{Type: EventTypingStop, RoomID: "r1"})
	stop := bob.recv(t)
	require.Equal(t, EventTypingStop, stop["type"])

	assert.Equal(t, 0, relay.history.Len("r1"))
}

func TestTypingRequiresIdentify(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	alice.drain()

	ghost := connect(relay, "c2")
	ghost.dispatch(ClientEvent{Type: EventTypingStart, RoomID: "r1"})
	alice.requireNoFrame(t)
}

func TestDisconnectCleanupAndOfflineBroadcast(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	bob := connect(relay, "c2")
	bob.identify("u2", "Bob")
	alice.drain()
	bob.drain()

	alice.disconnect()

	require.Empty(t, relay.rooms.Members("r1"))
	_, stillThere := relay.registry.Lookup("c1")
	assert.False(t, stillThere)

	offline := bob.recv(t)
	require.Equal(t, EventPresenceOffline, offline["type"])
	assert.Equal(t, "u1", offline["id"])
	assert.NotEmpty(t, offline["lastSeen"])

	// the session's send queue is closed once the relay lets go of it.
	_, open := <-alice.sess.send
	assert.False(t, open)
}

func TestDisconnectBeforeIdentifyIsQuiet(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.drain()

	ghost := connect(relay, "c2")
	ghost.disconnect()

	alice.requireNoFrame(t)
}

func TestReidentifyOverwritesAndKeepsMembership(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	alice.drain()

	alice.identify("u1", "Alicia")
	alice.drain()

	user, ok := relay.registry.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, "Alicia", user.Name)
	assert.Equal(t, []string{"r1"}, user.Rooms)
	assert.True(t, relay.rooms.Contains("r1", "c1"))
	assert.Equal(t, 1, relay.registry.Size())
}

func TestMalformedEventsAreDropped(t *testing.T) {
	relay := newTestRelay()
	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	alice.drain()

	for _, ev := range []ClientEvent{
		{Type: EventSendMessage, Text: "no room"},
		{Type: EventSendMessage, RoomID: "r1"},
		{Type: EventJoinRoom},
		{Type: EventSendFile, RoomID: "r1"},
		{Type: "bogus"},
	} {
		alice.dispatch(ev)
	}
	alice.requireNoFrame(t)
	assert.Equal(t, 0, relay.history.Len("r1"))
}

func TestConcurrentSendsUniqueIDsAndRoomIsolation(t *testing.T) {
	relay := newTestRelay()

	alice := connect(relay, "c1")
	alice.identify("u1", "Alice")
	alice.join("r1")
	bob := connect(relay, "c2")
	bob.identify("u2", "Bob")
	bob.join("r2")
	alice.drain()
	bob.drain()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = relay.Run(ctx)
	}()

	const perRoom = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perRoom; i++ {
			relay.Dispatch(alice.sess, ClientEvent{Type: EventSendMessage, RoomID: "r1", Text: fmt.Sprintf("a%d", i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perRoom; i++ {
			relay.Dispatch(bob.sess, ClientEvent{Type: EventSendMessage, RoomID: "r2", Text: fmt.Sprintf("b%d", i)})
		}
	}()
	wg.Wait()

	collect := func(sess *Session) []map[string]any {
		frames := make([]map[string]any, 0, perRoom)
		deadline := time.After(2 * time.Second)
		for len(frames) < perRoom {
			select {
			case payload := <-sess.send:
				var decoded map[string]any
				require.NoError(t, json.Unmarshal(payload, &decoded))
				frames = append(frames, decoded)
			case <-deadline:
				t.Fatalf("timed out after %d frames", len(frames))
			}
		}
		return frames
	}
	aliceFrames := collect(alice.sess)
	bobFrames := collect(bob.sess)

	cancel()
	<-loopDone

	seen := make(map[string]bool)
	for _, frame := range append(aliceFrames, bobFrames...) {
		id := frame["id"].(string)
		assert.False(t, seen[id], "duplicate message id %s", id)
		seen[id] = true
	}
	for i, frame := range aliceFrames {
		assert.Equal(t, "r1", frame["roomId"])
		assert.Equal(t, fmt.Sprintf("a%d", i), frame["text"])
	}
	for i, frame := range bobFrames {
		assert.Equal(t, "r2", frame["roomId"])
		assert.Equal(t, fmt.Sprintf("b%d", i), frame["text"])
	}

	aliceLog := relay.history.Snapshot("r1")
	require.Len(t, aliceLog, perRoom)
	for i, msg := range aliceLog {
		assert.Equal(t, fmt.Sprintf("a%d", i), msg.Text)
	}
}
