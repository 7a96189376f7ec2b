package domain

import "time"

// 房间关闭原因
const (
	CloseReasonHostLeft = "host_left"
	CloseReasonEmpty    = "empty"
)

// RoomSession 记录一次房间从开启到关闭的历史，只用于审计和统计。
// 实时房间状态从不从这里恢复。
type RoomSession struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	RoomID      string     `gorm:"type:varchar(191);uniqueIndex:idx_room_opened;not null" json:"roomId"`
	RoomName    string     `gorm:"type:varchar(191);not null" json:"roomName"`
	WorkspaceID string     `gorm:"type:varchar(191);index;not null" json:"workspaceId"`
	HostID      string     `gorm:"type:varchar(191);not null" json:"hostId"`
	OpenedAt    time.Time  `gorm:"uniqueIndex:idx_room_opened;not null" json:"openedAt"`
	ClosedAt    *time.Time `gorm:"index" json:"closedAt,omitempty"`
	CloseReason string     `gorm:"size:32" json:"closeReason,omitempty"`
	PeakSize    int        `gorm:"not null;default:0" json:"peakSize"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"-"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"-"`
}
