package hub

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestRegisterUnregisterIsIdempotent(t *testing.T) {
	h := New(testLogger())
	lobbyID := uuid.New()
	c := Register(h, uuid.New(), RoomContext(lobbyID))

	_, ok := h.Get(c.ID)
	require.True(t, ok)
	assert.Len(t, h.RoomConnections(lobbyID), 1)

	h.Unregister(c)
	_, ok = h.Get(c.ID)
	assert.False(t, ok)
	assert.Empty(t, h.RoomConnections(lobbyID))

	// unregistering twice must not panic
	assert.NotPanics(t, func() { h.Unregister(c) })
}

func TestBroadcastRoomDeliversToAllButOtherRoomsUnaffected(t *testing.T) {
	h := New(testLogger())
	roomA := uuid.New()
	roomB := uuid.New()

	a1 := Register(h, uuid.New(), RoomContext(roomA))
	a2 := Register(h, uuid.New(), RoomContext(roomA))
	b1 := Register(h, uuid.New(), RoomContext(roomB))

	h.BroadcastRoom(roomA, []byte("hello"))

	assert.Equal(t, []byte("hello"), <-a1.OutChan)
	assert.Equal(t, []byte("hello"), <-a2.OutChan)
	assert.Empty(t, b1.OutChan)
}

func TestSendToUnknownConnectionReturnsFalse(t *testing.T) {
	h := New(testLogger())
	assert.False(t, h.Send(uuid.New(), []byte("x")))
}

func TestPerRecipientFIFOOrdering(t *testing.T) {
	h := New(testLogger())
	c := Register(h, uuid.New(), RoomContext(uuid.New()))

	for i := 0; i < 5; i++ {
		assert.True(t, h.Send(c.ID, []byte{byte(i)}))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, []byte{byte(i)}, <-c.OutChan)
	}
}

func TestBroadcastLobbyListReachesMultiStatusFilter(t *testing.T) {
	h := New(testLogger())
	all := Register(h, uuid.New(), LobbyListContext(""))
	multi := Register(h, uuid.New(), LobbyListContext("starting,waiting"))
	other := Register(h, uuid.New(), LobbyListContext("finished"))

	h.BroadcastLobbyList("waiting", []byte("row"))

	assert.Equal(t, []byte("row"), <-all.OutChan)
	assert.Equal(t, []byte("row"), <-multi.OutChan)
	assert.Empty(t, other.OutChan)
}

func TestRecontextMovesSubscriberBetweenBuckets(t *testing.T) {
	h := New(testLogger())
	c := Register(h, uuid.New(), LobbyListContext("waiting"))
	assert.Len(t, h.byContext[LobbyListContext("waiting").key()], 1)

	h.Recontext(c, LobbyListContext("inProgress"))
	assert.Empty(t, h.byContext[LobbyListContext("waiting").key()])
	assert.Len(t, h.byContext[LobbyListContext("inProgress").key()], 1)
}
