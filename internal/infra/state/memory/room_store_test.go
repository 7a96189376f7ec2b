package memorystate_test

import (
	"testing"
	"time"

	"studysphere-realtime/internal/domain"
	memorystate "studysphere-realtime/internal/infra/state/memory"
	"studysphere-realtime/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(id string) *domain.Room {
	return &domain.Room{
		ID:          id,
		Name:        "Study",
		WorkspaceID: "w1",
		HostID:      "u1",
		Participants: []domain.Participant{
			{UserID: "u1", UserName: "Alice", Host: true, ConnectionID: "c1"},
		},
		CreatedAt: time.Now(),
	}
}

func TestRoomStore_CreateRejectsDuplicateID(t *testing.T) {
	store := memorystate.NewRoomStore()

	require.NoError(t, store.Create(newRoom("r1")))
	err := store.Create(newRoom("r1"))

	assert.ErrorIs(t, err, repository.ErrRoomExists)
	assert.Len(t, store.List(), 1)
}

func TestRoomStore_IDReusableAfterDelete(t *testing.T) {
	store := memorystate.NewRoomStore()
	require.NoError(t, store.Create(newRoom("r1")))

	store.Delete("r1")
	store.Delete("r1") // 幂等

	_, err := store.Get("r1")
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
	assert.NoError(t, store.Create(newRoom("r1")))
}

func TestRoomStore_GetReturnsCopy(t *testing.T) {
	store := memorystate.NewRoomStore()
	require.NoError(t, store.Create(newRoom("r1")))

	room, err := store.Get("r1")
	require.NoError(t, err)
	room.Participants[0].UserName = "mutated"
	room.Participants = append(room.Participants, domain.Participant{UserID: "u2"})

	stored, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Participants[0].UserName)
	assert.Len(t, stored.Participants, 1)
}

func TestRoomStore_UpdateMissingRoom(t *testing.T) {
	store := memorystate.NewRoomStore()
	assert.ErrorIs(t, store.Update(newRoom("nope")), repository.ErrRoomNotFound)
}

func TestRoomStore_ConnectionIndex(t *testing.T) {
	store := memorystate.NewRoomStore()
	require.NoError(t, store.Create(newRoom("r1")))
	store.BindConnection("c1", "r1")
	store.BindConnection("c2", "r1")

	roomID, ok := store.RoomForConnection("c1")
	assert.True(t, ok)
	assert.Equal(t, "r1", roomID)

	store.UnbindConnection("c1")
	_, ok = store.RoomForConnection("c1")
	assert.False(t, ok)

	// 删除房间时一并清理索引
	store.Delete("r1")
	_, ok = store.RoomForConnection("c2")
	assert.False(t, ok)
}

func TestRoomStore_ListOrderedByCreation(t *testing.T) {
	store := memorystate.NewRoomStore()
	older := newRoom("b")
	older.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(newRoom("a")))
	require.NoError(t, store.Create(older))

	rooms := store.List()
	require.Len(t, rooms, 2)
	assert.Equal(t, "b", rooms[0].ID)
	assert.Equal(t, "a", rooms[1].ID)
}
