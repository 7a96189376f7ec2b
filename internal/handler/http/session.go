package http

import (
	"net/http"
	"strconv"
	"strings"

	"studysphere-realtime/internal/domain"
	"studysphere-realtime/internal/repository"
	"studysphere-realtime/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 200
)

// SessionHandler 提供房间会话历史查询，只在配置了数据库时注册
type SessionHandler struct {
	sessionRepo repository.RoomSessionRepository
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(sessionRepo repository.RoomSessionRepository) *SessionHandler {
	if sessionRepo == nil {
		panic("RoomSessionRepository cannot be nil for SessionHandler")
	}
	return &SessionHandler{sessionRepo: sessionRepo}
}

// SessionListResponse 是会话历史列表的响应
type SessionListResponse struct {
	Sessions []domain.RoomSession `json:"sessions"`
}

// ListWorkspaceSessions 返回工作区最近的房间会话，?limit= 默认 50，最大 200
func (h *SessionHandler) ListWorkspaceSessions(c *gin.Context) {
	workspaceID := strings.TrimSpace(c.Param("workspaceId"))
	if workspaceID == "" {
		HandleServiceError(c, service.ErrInvalidInput)
		return
	}

	limit := defaultSessionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ErrorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxSessionLimit {
			n = maxSessionLimit
		}
		limit = n
	}

	sessions, err := h.sessionRepo.FindByWorkspace(c.Request.Context(), workspaceID, limit)
	if err != nil {
		logrus.WithError(err).WithField("workspace_id", workspaceID).Error("Handler.ListWorkspaceSessions: query failed")
		HandleServiceError(c, err)
		return
	}
	if sessions == nil {
		sessions = []domain.RoomSession{}
	}
	SuccessResponse(c, http.StatusOK, SessionListResponse{Sessions: sessions})
}
