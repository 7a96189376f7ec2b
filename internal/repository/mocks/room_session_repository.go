package mocks

import (
	"context"
	"time"

	"studysphere-realtime/internal/domain"

	"github.com/stretchr/testify/mock"
)

// RoomSessionRepository 是 repository.RoomSessionRepository 的 testify mock
type RoomSessionRepository struct {
	mock.Mock
}

func (m *RoomSessionRepository) Save(ctx context.Context, session *domain.RoomSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *RoomSessionRepository) MarkClosed(ctx context.Context, roomID string, openedAt, closedAt time.Time, reason string, peakSize int) error {
	args := m.Called(ctx, roomID, openedAt, closedAt, reason, peakSize)
	return args.Error(0)
}

func (m *RoomSessionRepository) FindByWorkspace(ctx context.Context, workspaceID string, limit int) ([]domain.RoomSession, error) {
	args := m.Called(ctx, workspaceID, limit)
	var sessions []domain.RoomSession
	if v := args.Get(0); v != nil {
		sessions = v.([]domain.RoomSession)
	}
	return sessions, args.Error(1)
}

func (m *RoomSessionRepository) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
