package http

import (
	"errors"
	"net/http"

	"studysphere-realtime/internal/repository"
	"studysphere-realtime/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandleServiceError 把业务错误映射为 HTTP 状态码，文案与 WebSocket ack 一致
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		ErrorResponse(c, http.StatusBadRequest, service.UserMessage(err))
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, repository.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, "Room not found")
	case errors.Is(err, service.ErrRoomExists):
		ErrorResponse(c, http.StatusConflict, service.UserMessage(err))
	case errors.Is(err, service.ErrWrongWorkspace):
		ErrorResponse(c, http.StatusForbidden, service.UserMessage(err))
	case errors.Is(err, service.ErrNotInRoom):
		ErrorResponse(c, http.StatusConflict, service.UserMessage(err))
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
