package repository

import (
	"studysphere-realtime/internal/domain"
)

// RoomStore 定义了进程内房间注册表的操作。
// 实现必须可以按实例构造（测试、服务各自一份），不能是包级单例。
// 调用方（RoomService）负责把多个调用组合成原子操作。
type RoomStore interface {
	// Create 插入新房间，roomId 已存在时返回 ErrRoomExists。
	Create(room *domain.Room) error

	// Get 返回房间副本，不存在时返回 ErrRoomNotFound。
	Get(roomID string) (*domain.Room, error)

	// Update 用给定房间整体替换已有记录，不存在时返回 ErrRoomNotFound。
	Update(room *domain.Room) error

	// Delete 删除房间以及指向它的所有连接索引，幂等。
	Delete(roomID string)

	// List 返回所有房间的副本。
	List() []*domain.Room

	// BindConnection 维护 connectionId -> roomId 反向索引。
	BindConnection(connectionID, roomID string)

	// UnbindConnection 删除连接索引，幂等。
	UnbindConnection(connectionID string)

	// RoomForConnection 查找连接所在的房间 ID。
	RoomForConnection(connectionID string) (string, bool)
}
