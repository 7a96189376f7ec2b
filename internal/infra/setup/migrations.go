package setup

import (
	"fmt"

	"studysphere-realtime/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MigrateDB 迁移会话历史表。实时房间状态不落库，这里只有 room_sessions。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(&domain.RoomSession{}); err != nil {
		logrus.Errorf("Failed to auto-migrate room_sessions: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
