package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geochat/go-geochat-server/internal/event"
	"geochat/go-geochat-server/internal/model"
	"geochat/go-geochat-server/internal/protocol"
)

type recordingTransport struct {
	delivered []protocol.Envelope
}

func (t *recordingTransport) Deliver(env protocol.Envelope) error {
	t.delivered = append(t.delivered, env)
	return nil
}

func testParticipant(name string) model.Participant {
	return model.Participant{
		Name:      name,
		Latitude:  -23.5505,
		Longitude: -46.6333,
		Radius:    1000,
	}
}

func TestRegisterMarksOnline(t *testing.T) {
	dir := New(nil)

	require.NoError(t, dir.Register(testParticipant("alice"), &recordingTransport{}))

	p, ok := dir.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, model.StatusOnline, p.Status)
	assert.Equal(t, 1, dir.Len())
}

func TestRegisterDuplicateLeavesOriginal(t *testing.T) {
	dir := New(nil)
	first := &recordingTransport{}

	require.NoError(t, dir.Register(testParticipant("alice"), first))

	dup := testParticipant("alice")
	dup.Latitude = 10
	err := dir.Register(dup, &recordingTransport{})
	require.ErrorIs(t, err, ErrDuplicateName)

	p, tr, ok := dir.LookupTransport("alice")
	require.True(t, ok)
	assert.Equal(t, -23.5505, p.Latitude)
	assert.Same(t, first, tr.(*recordingTransport))
	assert.Equal(t, 1, dir.Len())
}

func TestRegisterRejectsInvalidRadius(t *testing.T) {
	dir := New(nil)

	p := testParticipant("alice")
	p.Radius = 0
	require.ErrorIs(t, dir.Register(p, &recordingTransport{}), ErrInvalidRadius)

	p.Radius = -5
	require.ErrorIs(t, dir.Register(p, &recordingTransport{}), ErrInvalidRadius)
	assert.Equal(t, 0, dir.Len())
}

func TestUnregister(t *testing.T) {
	dir := New(nil)
	require.NoError(t, dir.Register(testParticipant("alice"), &recordingTransport{}))

	assert.True(t, dir.Unregister("alice"))
	_, ok := dir.Lookup("alice")
	assert.False(t, ok)

	// Absent names are a no-op.
	assert.False(t, dir.Unregister("alice"))
	assert.False(t, dir.Unregister("never-seen"))
}

func TestUpdateLocation(t *testing.T) {
	dir := New(nil)
	require.NoError(t, dir.Register(testParticipant("alice"), &recordingTransport{}))

	require.NoError(t, dir.UpdateLocation("alice", -22.9068, -43.1729))

	p, ok := dir.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, -22.9068, p.Latitude)
	assert.Equal(t, -43.1729, p.Longitude)

	require.ErrorIs(t, dir.UpdateLocation("bob", 0, 0), ErrNotFound)
}

func TestUpdateRadius(t *testing.T) {
	dir := New(nil)
	require.NoError(t, dir.Register(testParticipant("alice"), &recordingTransport{}))

	require.NoError(t, dir.UpdateRadius("alice", 250))
	p, _ := dir.Lookup("alice")
	assert.Equal(t, 250.0, p.Radius)

	require.ErrorIs(t, dir.UpdateRadius("alice", 0), ErrInvalidRadius)
	require.ErrorIs(t, dir.UpdateRadius("bob", 100), ErrNotFound)
}

func TestLookupReturnsCopy(t *testing.T) {
	dir := New(nil)
	require.NoError(t, dir.Register(testParticipant("alice"), &recordingTransport{}))

	p, ok := dir.Lookup("alice")
	require.True(t, ok)
	p.Latitude = 99

	again, _ := dir.Lookup("alice")
	assert.Equal(t, -23.5505, again.Latitude)
}

func TestSnapshotSortedAndIsolated(t *testing.T) {
	dir := New(nil)
	require.NoError(t, dir.Register(testParticipant("carol"), &recordingTransport{}))
	require.NoError(t, dir.Register(testParticipant("alice"), &recordingTransport{}))
	require.NoError(t, dir.Register(testParticipant("bob"), &recordingTransport{}))

	snap := dir.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alice", snap[0].Name)
	assert.Equal(t, "bob", snap[1].Name)
	assert.Equal(t, "carol", snap[2].Name)

	snap[0].Latitude = 99
	p, _ := dir.Lookup("alice")
	assert.Equal(t, -23.5505, p.Latitude)
}

func TestLifecycleEvents(t *testing.T) {
	notifier := event.NewNotifier()
	events, cancel := notifier.Subscribe(8)
	defer cancel()

	dir := New(notifier)
	require.NoError(t, dir.Register(testParticipant("alice"), &recordingTransport{}))

	ev := <-events
	assert.Equal(t, event.KindParticipantConnected, ev.Kind)
	assert.Equal(t, "alice", ev.Participant.Name)
	assert.Equal(t, model.StatusOnline, ev.Participant.Status)

	require.True(t, dir.Unregister("alice"))

	ev = <-events
	assert.Equal(t, event.KindParticipantDisconnected, ev.Kind)
	assert.Equal(t, model.StatusOffline, ev.Participant.Status)
}
