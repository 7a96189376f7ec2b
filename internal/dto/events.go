package dto

import (
	"encoding/json"

	"studysphere-realtime/internal/domain"
)

// 白板命名空间的事件名，与前端 socket 事件保持一致
const (
	EventCreateRoom        = "createRoom"
	EventJoinRoom          = "joinRoom"
	EventGetRoomUsers      = "getRoomUsers"
	EventWhiteboardChanges = "whiteboard-changes"
	EventMessage           = "message"
	EventLeaveRoom         = "leaveRoom"

	EventRoomUserList = "roomUserList"
	EventRoomClosed   = "roomClosed"
	EventAck          = "ack"
	EventError        = "error"
)

// 工作区聊天命名空间的事件名
const (
	EventJoinWorkspace  = "joinWorkspace"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
)

// Envelope 是 WebSocket 上收发的统一帧格式。
// AckID 不为空时，服务端用同一个 ackId 回一帧 "ack"。
type Envelope struct {
	Event string          `json:"event"`
	AckID *int64          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest 是 createRoom / joinRoom 的载荷。
// Host 由客户端提供，服务端只信任房间记录里的创建者。
type RoomRequest struct {
	RoomName    string `json:"roomName"`
	RoomID      string `json:"roomId"`
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Host        bool   `json:"host"`
}

// SnapshotIn 是 whiteboard-changes 的载荷，Snapshot 原样转发。
type SnapshotIn struct {
	RoomID   string          `json:"roomId"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// ChatIn 是房间聊天的载荷。旧版前端使用 message 字段。
type ChatIn struct {
	RoomID   string `json:"roomId"`
	Content  string `json:"content"`
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// WorkspaceMessageIn 是工作区聊天 sendMessage 的载荷。
type WorkspaceMessageIn struct {
	WorkspaceID string          `json:"workspaceId"`
	MessageData json.RawMessage `json:"messageData"`
}

// AckResult 是带回调事件的统一应答。
type AckResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UserList 是 roomUserList 和 getRoomUsers 的应答。
type UserList struct {
	Users []domain.Participant `json:"users"`
}

// ErrorDTO 表示发送给客户端的错误消息。
type ErrorDTO struct {
	Message string `json:"message"`
}

// RoomSummary 是工作区房间列表中的一项。
type RoomSummary struct {
	RoomID           string `json:"roomId"`
	RoomName         string `json:"roomName"`
	ParticipantCount int    `json:"participantCount"`
}

// NewFrame 序列化一帧出站消息，data 为 nil 时省略 data 字段。
func NewFrame(event string, ackID *int64, data interface{}) ([]byte, error) {
	env := Envelope{Event: event, AckID: ackID}
	if data != nil {
		raw, ok := data.(json.RawMessage)
		if !ok {
			b, err := json.Marshal(data)
			if err != nil {
				return nil, err
			}
			raw = b
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
