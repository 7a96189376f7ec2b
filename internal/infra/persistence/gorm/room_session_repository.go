package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"studysphere-realtime/internal/domain"
	"studysphere-realtime/internal/repository"
)

// GormRoomSessionRepository 是 RoomSessionRepository 接口的 GORM 实现
type GormRoomSessionRepository struct {
	db *gorm.DB
}

// NewGormRoomSessionRepository 创建 GormRoomSessionRepository 实例
func NewGormRoomSessionRepository(db *gorm.DB) *GormRoomSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomSessionRepository")
	}
	return &GormRoomSessionRepository{db: db}
}

// 编译期检查接口实现
var _ repository.RoomSessionRepository = (*GormRoomSessionRepository)(nil)

// Save 插入一条会话记录
func (r *GormRoomSessionRepository) Save(ctx context.Context, session *domain.RoomSession) error {
	err := r.db.WithContext(ctx).Create(session).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room session (room_id: %s): %w", session.RoomID, err)
	}
	return nil
}

// MarkClosed 只更新尚未关闭的会话。已经关闭过的会话再次关闭视为成功（任务重试）。
func (r *GormRoomSessionRepository) MarkClosed(ctx context.Context, roomID string, openedAt, closedAt time.Time, reason string, peakSize int) error {
	db := r.db.WithContext(ctx)
	result := db.Model(&domain.RoomSession{}).
		Where("room_id = ? AND opened_at = ? AND closed_at IS NULL", roomID, openedAt).
		Updates(map[string]interface{}{
			"closed_at":    closedAt,
			"close_reason": reason,
			"peak_size":    peakSize,
		})
	if result.Error != nil {
		return fmt.Errorf("gorm: close room session (room_id: %s): %w", roomID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	err := db.Model(&domain.RoomSession{}).
		Where("room_id = ? AND opened_at = ?", roomID, openedAt).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("gorm: check room session (room_id: %s): %w", roomID, err)
	}
	if count == 0 {
		return repository.ErrSessionNotFound
	}
	return nil
}

// FindByWorkspace 按开启时间倒序返回工作区的会话
func (r *GormRoomSessionRepository) FindByWorkspace(ctx context.Context, workspaceID string, limit int) ([]domain.RoomSession, error) {
	var sessions []domain.RoomSession
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("opened_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find sessions by workspace '%s': %w", workspaceID, err)
	}
	return sessions, nil
}

// DeleteClosedBefore 删除关闭时间早于 cutoff 的会话，未关闭的会话不受影响
func (r *GormRoomSessionRepository) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("closed_at IS NOT NULL AND closed_at < ?", cutoff).
		Delete(&domain.RoomSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: delete sessions closed before %s: %w", cutoff.Format(time.RFC3339), result.Error)
	}
	return result.RowsAffected, nil
}
