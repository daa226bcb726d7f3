package server

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/protocol"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newTestSession(userID string) *session {
	return &session{
		id:     "sess_" + userID,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

func recvEnvelope(t *testing.T, sess *session) *protocol.Envelope {
	t.Helper()
	select {
	case payload := <-sess.send:
		env, err := protocol.DecodeEnvelope(payload)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func assertNoFrame(t *testing.T, sess *session) {
	t.Helper()
	select {
	case payload := <-sess.send:
		t.Fatalf("unexpected frame: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterReportsFirstSession(t *testing.T) {
	hub := newTestHub(t)

	first := newTestSession("usr_1")
	second := newTestSession("usr_1")

	assert.True(t, hub.register(first))
	assert.False(t, hub.register(second))

	// Last session out reports true so the caller can announce offline.
	assert.False(t, hub.unregister(first))
	assert.True(t, hub.unregister(second))
}

func TestToConversationReachesOnlyRoomMembers(t *testing.T) {
	hub := newTestHub(t)

	inRoom := newTestSession("usr_1")
	outside := newTestSession("usr_2")
	hub.register(inRoom)
	hub.register(outside)
	hub.joinRoom("conv_1", inRoom)

	hub.ToConversation("conv_1", protocol.EventMessageNew, map[string]string{"id": "msg_1"})

	env := recvEnvelope(t, inRoom)
	assert.Equal(t, protocol.EventMessageNew, env.Type)
	assert.Equal(t, "conv_1", env.ConversationID)
	assertNoFrame(t, outside)
}

func TestToConversationExceptSkipsTypist(t *testing.T) {
	hub := newTestHub(t)

	typist := newTestSession("usr_1")
	other := newTestSession("usr_2")
	hub.register(typist)
	hub.register(other)
	hub.joinRoom("conv_1", typist)
	hub.joinRoom("conv_1", other)

	hub.ToConversationExcept("conv_1", typist, protocol.EventUserTyping, protocol.UserTyping{
		ConversationID: "conv_1",
		UserID:         "usr_1",
		IsTyping:       true,
	})

	env := recvEnvelope(t, other)
	assert.Equal(t, protocol.EventUserTyping, env.Type)
	assertNoFrame(t, typist)
}

func TestToUserReachesEverySessionOfUser(t *testing.T) {
	hub := newTestHub(t)

	phone := newTestSession("usr_1")
	laptop := newTestSession("usr_1")
	stranger := newTestSession("usr_2")
	hub.register(phone)
	hub.register(laptop)
	hub.register(stranger)

	hub.ToUser("usr_1", protocol.EventConversationUpdated, map[string]string{"id": "conv_9"})

	for _, sess := range []*session{phone, laptop} {
		env := recvEnvelope(t, sess)
		assert.Equal(t, protocol.EventConversationUpdated, env.Type)
	}
	assertNoFrame(t, stranger)
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	hub := newTestHub(t)

	sess := newTestSession("usr_1")
	hub.register(sess)
	hub.joinRoom("conv_1", sess)
	hub.leaveRoom("conv_1", sess)

	hub.ToConversation("conv_1", protocol.EventMessageNew, nil)
	assertNoFrame(t, sess)
}

func TestUnregisterRemovesFromRooms(t *testing.T) {
	hub := newTestHub(t)

	sess := newTestSession("usr_1")
	hub.register(sess)
	hub.joinRoom("conv_1", sess)
	hub.unregister(sess)

	// send is closed on unregister; the broadcast must not panic or deliver.
	hub.ToConversation("conv_1", protocol.EventMessageNew, nil)

	stats := hub.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Rooms)
}

func TestSlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	hub := newTestHub(t)

	sess := newTestSession("usr_1")
	sess.send = make(chan []byte, 1)
	hub.register(sess)
	hub.joinRoom("conv_1", sess)

	hub.ToConversation("conv_1", protocol.EventMessageNew, map[string]int{"n": 1})
	hub.ToConversation("conv_1", protocol.EventMessageNew, map[string]int{"n": 2})

	// Only the first frame fits; the second is dropped, not queued.
	env := recvEnvelope(t, sess)
	var data map[string]int
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, 1, data["n"])
	assertNoFrame(t, sess)
}

func TestStats(t *testing.T) {
	hub := newTestHub(t)

	a1 := newTestSession("usr_1")
	a2 := newTestSession("usr_1")
	b := newTestSession("usr_2")
	hub.register(a1)
	hub.register(a2)
	hub.register(b)
	hub.joinRoom("conv_1", a1)
	hub.joinRoom("conv_2", b)

	stats := hub.Stats()
	assert.Equal(t, 3, stats.Sessions)
	assert.Equal(t, 2, stats.OnlineUsers)
	assert.Equal(t, 2, stats.Rooms)
}
