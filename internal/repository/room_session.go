package repository

import (
	"context"
	"time"

	"studysphere-realtime/internal/domain"
)

// RoomSessionRepository 定义了房间会话历史的持久化操作，由 GORM 实现。
type RoomSessionRepository interface {
	// Save 记录一次房间开启。同一 (roomId, openedAt) 重复写入返回 ErrDuplicateEntry。
	Save(ctx context.Context, session *domain.RoomSession) error

	// MarkClosed 为 (roomId, openedAt) 对应的会话写入关闭时间、原因和峰值人数。
	// 会话不存在时返回 ErrSessionNotFound。
	MarkClosed(ctx context.Context, roomID string, openedAt, closedAt time.Time, reason string, peakSize int) error

	// FindByWorkspace 返回工作区最近的会话，按开启时间倒序。
	FindByWorkspace(ctx context.Context, workspaceID string, limit int) ([]domain.RoomSession, error)

	// DeleteClosedBefore 删除关闭时间早于 cutoff 的会话，返回删除条数。
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
