package http

import (
	"net/http"
	"strings"

	"studysphere-realtime/internal/dto"
	"studysphere-realtime/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 提供房间状态的只读 HTTP 视图
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// WorkspaceRoomsResponse 是工作区开启房间列表的响应
type WorkspaceRoomsResponse struct {
	Rooms []dto.RoomSummary `json:"rooms"`
}

// GetRoomUsers 返回房间成员，与 WebSocket 的 getRoomUsers 契约一致：
// 房间不存在时返回空列表而不是 404。
func (h *RoomHandler) GetRoomUsers(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	if roomID == "" {
		HandleServiceError(c, service.ErrInvalidInput)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.UserList{Users: h.roomService.GetMembers(roomID)})
}

// ListWorkspaceRooms 返回工作区内当前开启的房间，供加入表单展示
func (h *RoomHandler) ListWorkspaceRooms(c *gin.Context) {
	workspaceID := strings.TrimSpace(c.Param("workspaceId"))
	if workspaceID == "" {
		HandleServiceError(c, service.ErrInvalidInput)
		return
	}
	rooms := h.roomService.ListWorkspaceRooms(workspaceID)
	logrus.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"count":        len(rooms),
	}).Debug("Handler.ListWorkspaceRooms")
	SuccessResponse(c, http.StatusOK, WorkspaceRoomsResponse{Rooms: rooms})
}
