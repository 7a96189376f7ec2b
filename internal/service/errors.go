package service

import "errors"

var (
	ErrRoomExists     = errors.New("room already exists")
	ErrRoomNotFound   = errors.New("room not found")
	ErrWrongWorkspace = errors.New("wrong workspace")
	ErrNotInRoom      = errors.New("connection is not in a room")
	ErrInvalidInput   = errors.New("invalid room data")
	ErrInternalServer = errors.New("internal server error")
)

// UserMessage 把业务错误映射为前端展示的文案（与原前端提示保持一致）。
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomExists):
		return "Room already exists"
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrWrongWorkspace):
		return "Wrong Workspace"
	case errors.Is(err, ErrNotInRoom):
		return "Not in a room"
	case errors.Is(err, ErrInvalidInput):
		return "Invalid room data"
	default:
		return "Internal server error"
	}
}
