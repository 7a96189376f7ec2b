package memorystate

import (
	"sort"
	"sync"

	"studysphere-realtime/internal/domain"
	"studysphere-realtime/internal/repository"
)

// RoomStore 是 repository.RoomStore 的内存实现。
// 自带的读写锁只保证 map 本身的并发安全，业务上的原子性由 RoomService 保证。
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
	// connectionId -> roomId，每次加入/离开时同步维护
	connRooms map[string]string
}

var _ repository.RoomStore = (*RoomStore)(nil)

// NewRoomStore 创建一个空的内存注册表。
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:     make(map[string]*domain.Room),
		connRooms: make(map[string]string),
	}
}

func (s *RoomStore) Create(room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.ID]; exists {
		return repository.ErrRoomExists
	}
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *RoomStore) Get(roomID string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *RoomStore) Update(room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return repository.ErrRoomNotFound
	}
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *RoomStore) Delete(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	for connID, rid := range s.connRooms {
		if rid == roomID {
			delete(s.connRooms, connID)
		}
	}
}

// List 按创建时间排序返回，便于接口输出稳定。
func (s *RoomStore) List() []*domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}

func (s *RoomStore) BindConnection(connectionID, roomID string) {
	s.mu.Lock()
	s.connRooms[connectionID] = roomID
	s.mu.Unlock()
}

func (s *RoomStore) UnbindConnection(connectionID string) {
	s.mu.Lock()
	delete(s.connRooms, connectionID)
	s.mu.Unlock()
}

func (s *RoomStore) RoomForConnection(connectionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.connRooms[connectionID]
	return roomID, ok
}
