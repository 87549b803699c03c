package asyncdelivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geochat/go-geochat-server/internal/model"
	"geochat/go-geochat-server/internal/routing"
)

func TestDeclareTopology(t *testing.T) {
	fc := newFakeChannel()
	s := New(testLogger(), fc)

	require.NoError(t, s.DeclareTopology())

	assert.Equal(t, "direct", fc.exchanges[MessagesExchange])
	assert.Equal(t, "fanout", fc.exchanges[LocationExchange])
}

func TestProvisionParticipant(t *testing.T) {
	fc := newFakeChannel()
	s := New(testLogger(), fc)
	require.NoError(t, s.DeclareTopology())

	require.NoError(t, s.ProvisionParticipant("alice"))

	assert.True(t, fc.hasQueue("user_alice_messages"))
	assert.True(t, fc.hasQueue("user_alice_location"))

	assert.Contains(t, fc.bindings, fakeBinding{queue: "user_alice_messages", exchange: MessagesExchange, key: "alice"})
	assert.Contains(t, fc.bindings, fakeBinding{queue: "user_alice_location", exchange: LocationExchange, key: ""})
}

func TestRemoveParticipant(t *testing.T) {
	fc := newFakeChannel()
	s := New(testLogger(), fc)
	require.NoError(t, s.DeclareTopology())
	require.NoError(t, s.ProvisionParticipant("alice"))

	require.NoError(t, s.RemoveParticipant("alice"))

	assert.False(t, fc.hasQueue("user_alice_messages"))
	assert.False(t, fc.hasQueue("user_alice_location"))
	assert.Empty(t, fc.bindings)
}

func TestPublishMessageRoutesByRecipient(t *testing.T) {
	fc := newFakeChannel()
	s := New(testLogger(), fc)
	require.NoError(t, s.DeclareTopology())
	require.NoError(t, s.ProvisionParticipant("alice"))
	require.NoError(t, s.ProvisionParticipant("bob"))

	err := s.PublishMessage(context.Background(), "alice", "bob", "oi", routing.ReasonOffline)
	require.NoError(t, err)

	bobMsgs := fc.stored("user_bob_messages")
	require.Len(t, bobMsgs, 1)
	assert.True(t, bobMsgs[0].persistent)
	assert.Empty(t, fc.stored("user_alice_messages"))

	var msg AsyncMessage
	require.NoError(t, json.Unmarshal(bobMsgs[0].body, &msg))
	assert.Equal(t, TypeAsyncMessage, msg.Tipo)
	assert.Equal(t, "alice", msg.Remetente)
	assert.Equal(t, "bob", msg.Destinatario)
	assert.Equal(t, "oi", msg.Conteudo)
	assert.Equal(t, string(routing.ReasonOffline), msg.Motivo)

	ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestPublishLocationFansOut(t *testing.T) {
	fc := newFakeChannel()
	s := New(testLogger(), fc)
	require.NoError(t, s.DeclareTopology())
	require.NoError(t, s.ProvisionParticipant("alice"))
	require.NoError(t, s.ProvisionParticipant("bob"))

	p := model.Participant{Name: "alice", Latitude: -23.5505, Longitude: -46.6333, Radius: 1000, Status: model.StatusOnline}
	require.NoError(t, s.PublishLocation(context.Background(), p))

	// The fanout copies the broadcast to every location queue, the
	// publisher's own included.
	for _, queue := range []string{"user_alice_location", "user_bob_location"} {
		stored := fc.stored(queue)
		require.Len(t, stored, 1, queue)

		var upd LocationUpdate
		require.NoError(t, json.Unmarshal(stored[0].body, &upd))
		assert.Equal(t, TypeLocationUpdate, upd.Tipo)
		assert.Equal(t, "alice", upd.Usuario.Nome)
		assert.Equal(t, 1000.0, upd.Usuario.RaioComunicacao)
	}

	assert.Empty(t, fc.stored("user_alice_messages"))
}

func TestPersistentMessagesSurviveRestart(t *testing.T) {
	fc := newFakeChannel()
	s := New(testLogger(), fc)
	require.NoError(t, s.DeclareTopology())
	require.NoError(t, s.ProvisionParticipant("bob"))

	require.NoError(t, s.PublishMessage(context.Background(), "alice", "bob", "antes", routing.ReasonOutOfRange))

	fc.restart()

	stored := fc.stored("user_bob_messages")
	require.Len(t, stored, 1)

	var msg AsyncMessage
	require.NoError(t, json.Unmarshal(stored[0].body, &msg))
	assert.Equal(t, "antes", msg.Conteudo)
}
