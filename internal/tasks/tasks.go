package tasks

import (
	"encoding/json"
	"time"

	"studysphere-realtime/internal/domain"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeRoomSessionOpen  = "room:session:open"  // 记录房间开启
	TypeRoomSessionClose = "room:session:close" // 记录房间关闭
	TypeRoomSessionPrune = "room:session:prune" // 周期性清理过期会话
)

const (
	// 关闭任务可能先于开启任务被消费，需要足够的重试次数等开启记录落库
	sessionTaskMaxRetry = 8
	sessionTaskTimeout  = 30 * time.Second
)

// RoomSessionOpenPayload 定义了房间开启任务的数据结构
type RoomSessionOpenPayload struct {
	RoomID      string    `json:"room_id"`
	RoomName    string    `json:"room_name"`
	WorkspaceID string    `json:"workspace_id"`
	HostID      string    `json:"host_id"`
	OpenedAt    time.Time `json:"opened_at"`
}

// RoomSessionClosePayload 定义了房间关闭任务的数据结构，OpenedAt 用于定位会话
type RoomSessionClosePayload struct {
	RoomID   string    `json:"room_id"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at"`
	Reason   string    `json:"reason"`
	PeakSize int       `json:"peak_size"`
}

// NewRoomSessionOpenTask 根据刚创建的房间生成开启任务
func NewRoomSessionOpenTask(room domain.Room) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomSessionOpenPayload{
		RoomID:      room.ID,
		RoomName:    room.Name,
		WorkspaceID: room.WorkspaceID,
		HostID:      room.HostID,
		OpenedAt:    sessionTime(room.CreatedAt),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomSessionOpen, payload,
		asynq.MaxRetry(sessionTaskMaxRetry), asynq.Timeout(sessionTaskTimeout)), nil
}

// NewRoomSessionCloseTask 根据已关闭的房间生成关闭任务
func NewRoomSessionCloseTask(room domain.Room, reason string, closedAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomSessionClosePayload{
		RoomID:   room.ID,
		OpenedAt: sessionTime(room.CreatedAt),
		ClosedAt: sessionTime(closedAt),
		Reason:   reason,
		PeakSize: room.PeakSize,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomSessionClose, payload,
		asynq.MaxRetry(sessionTaskMaxRetry), asynq.Timeout(sessionTaskTimeout)), nil
}

// sessionTime 对齐到 MySQL DATETIME(3) 的精度，保证 (roomId, openedAt) 能精确匹配
func sessionTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// NewRoomSessionPruneTask 创建周期性清理任务，保留时长由 worker 的配置决定
func NewRoomSessionPruneTask() *asynq.Task {
	return asynq.NewTask(TypeRoomSessionPrune, nil, asynq.MaxRetry(1))
}
