package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"studysphere-realtime/internal/domain"
	"studysphere-realtime/internal/repository"
	"studysphere-realtime/internal/tasks"
)

// RoomSessionHandler 处理房间会话历史相关的任务
type RoomSessionHandler struct {
	sessionRepo repository.RoomSessionRepository
	retention   time.Duration
	now         func() time.Time
}

// NewRoomSessionHandler 创建 Handler 实例，retention 为已关闭会话的保留时长
func NewRoomSessionHandler(sessionRepo repository.RoomSessionRepository, retention time.Duration) *RoomSessionHandler {
	if sessionRepo == nil {
		panic("RoomSessionRepository cannot be nil for RoomSessionHandler")
	}
	return &RoomSessionHandler{
		sessionRepo: sessionRepo,
		retention:   retention,
		now:         time.Now,
	}
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

// ProcessOpen 写入一条新的会话记录。重试导致的重复写入视为成功。
func (h *RoomSessionHandler) ProcessOpen(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	var payload tasks.RoomSessionOpenPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)

	session := &domain.RoomSession{
		RoomID:      payload.RoomID,
		RoomName:    payload.RoomName,
		WorkspaceID: payload.WorkspaceID,
		HostID:      payload.HostID,
		OpenedAt:    payload.OpenedAt,
		PeakSize:    1,
	}
	if err := h.sessionRepo.Save(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Info("Room session already recorded")
			return nil
		}
		logCtx.WithError(err).Error("Failed to save room session")
		return fmt.Errorf("failed to save session for room %s: %w", payload.RoomID, err)
	}

	logCtx.Info("Room session opened")
	return nil
}

// ProcessClose 为会话写入关闭信息。开启记录尚未落库时返回错误，交给 asynq 重试。
func (h *RoomSessionHandler) ProcessClose(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	var payload tasks.RoomSessionClosePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{
		"room_id": payload.RoomID,
		"reason":  payload.Reason,
	})

	err := h.sessionRepo.MarkClosed(ctx, payload.RoomID, payload.OpenedAt, payload.ClosedAt, payload.Reason, payload.PeakSize)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.Warn("Open record not stored yet, will retry")
		} else {
			logCtx.WithError(err).Error("Failed to mark room session closed")
		}
		return fmt.Errorf("failed to close session for room %s: %w", payload.RoomID, err)
	}

	logCtx.Info("Room session closed")
	return nil
}

// ProcessPrune 删除超过保留时长的已关闭会话
func (h *RoomSessionHandler) ProcessPrune(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	if h.retention <= 0 {
		logCtx.Debug("Session retention disabled, skipping prune")
		return nil
	}

	cutoff := h.now().Add(-h.retention)
	deleted, err := h.sessionRepo.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		logCtx.WithError(err).Error("Failed to prune room sessions")
		return fmt.Errorf("failed to prune sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logCtx.WithFields(logrus.Fields{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": deleted,
	}).Info("Room sessions pruned")
	return nil
}
