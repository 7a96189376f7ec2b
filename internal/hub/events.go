package hub

import (
	"encoding/json"
	"strings"

	"studysphere-realtime/internal/domain"
	"studysphere-realtime/internal/dto"
	"studysphere-realtime/internal/service"

	"github.com/sirupsen/logrus"
)

func (h *Hub) handleWhiteboardEvent(client *Client, env dto.Envelope) {
	switch env.Event {
	case dto.EventCreateRoom, dto.EventJoinRoom:
		h.handleRoomEntry(client, env)
	case dto.EventGetRoomUsers:
		h.handleGetRoomUsers(client, env)
	case dto.EventWhiteboardChanges:
		h.handleSnapshot(client, env)
	case dto.EventMessage:
		h.handleRoomChat(client, env)
	case dto.EventLeaveRoom:
		h.handleLeaveRoom(client, env)
	default:
		h.sendError(client, env.AckID, "unknown event: "+env.Event)
	}
}

func (h *Hub) handleChatEvent(client *Client, env dto.Envelope) {
	switch env.Event {
	case dto.EventJoinWorkspace:
		h.handleJoinWorkspace(client, env)
	case dto.EventSendMessage:
		h.handleWorkspaceMessage(client, env)
	default:
		h.sendError(client, env.AckID, "unknown event: "+env.Event)
	}
}

// handleRoomEntry 处理 createRoom 和 joinRoom
func (h *Hub) handleRoomEntry(client *Client, env dto.Envelope) {
	var req dto.RoomRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.ack(client, env.AckID, dto.AckResult{Success: false, Message: service.UserMessage(service.ErrInvalidInput)})
		return
	}

	var (
		result *service.JoinResult
		err    error
	)
	if env.Event == dto.EventCreateRoom {
		result, err = h.roomService.CreateRoom(req, client.ID())
	} else {
		result, err = h.roomService.JoinRoom(req, client.ID())
	}
	if err != nil {
		h.ack(client, env.AckID, dto.AckResult{Success: false, Message: service.UserMessage(err)})
		return
	}

	if result.Previous != nil {
		h.applyLeave(result.Previous, client)
	}

	h.mu.Lock()
	h.syncRoomChannelLocked(result.Room.ID, result.Members)
	h.joinRoomChannelLocked(result.Room.ID, client)
	h.mu.Unlock()

	h.ack(client, env.AckID, dto.AckResult{Success: true})
	h.broadcastPresence(result.Room.ID, result.Members)
}

func (h *Hub) handleGetRoomUsers(client *Client, env dto.Envelope) {
	roomID := decodeID(env.Data, "roomId")
	users := dto.UserList{Users: h.roomService.GetMembers(roomID)}
	if env.AckID != nil {
		h.ack(client, env.AckID, users)
		return
	}
	h.send(client, dto.EventRoomUserList, nil, users)
}

// handleSnapshot 把画布快照原样转发给房间内除发送者以外的连接
func (h *Hub) handleSnapshot(client *Client, env dto.Envelope) {
	var in dto.SnapshotIn
	if err := json.Unmarshal(env.Data, &in); err != nil {
		logrus.WithField("connection_id", client.ID()).Debug("Dropping undecodable snapshot")
		return
	}
	if !h.roomService.ValidateSnapshot(in.RoomID, client.ID(), in.Snapshot) {
		logrus.WithFields(logrus.Fields{
			"connection_id": client.ID(),
			"room_id":       in.RoomID,
		}).Debug("Dropping snapshot from unbound sender or with empty payload")
		return
	}
	h.broadcast(h.roomRecipients(in.RoomID, client), dto.EventWhiteboardChanges, in.Snapshot)
}

func (h *Hub) handleRoomChat(client *Client, env dto.Envelope) {
	var in dto.ChatIn
	if err := json.Unmarshal(env.Data, &in); err != nil {
		return
	}
	msg, ok := h.roomService.PrepareChat(client.ID(), in)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"connection_id": client.ID(),
			"room_id":       in.RoomID,
		}).Debug("Dropping chat message")
		return
	}
	h.broadcast(h.roomRecipients(msg.RoomID, client), dto.EventMessage, msg)
}

func (h *Hub) handleLeaveRoom(client *Client, env dto.Envelope) {
	result, err := h.roomService.LeaveRoom(client.ID())
	if err != nil {
		h.ack(client, env.AckID, dto.AckResult{Success: false, Message: service.UserMessage(err)})
		return
	}
	h.applyLeave(result, client)
	h.ack(client, env.AckID, dto.AckResult{Success: true})
}

// applyLeave 把一次成员移除反映到频道上：房间关闭则通知剩余连接并解散频道，
// 否则推送最新成员列表。
func (h *Hub) applyLeave(result *service.LeaveResult, leaver *Client) {
	if result.Closed {
		recipients := h.roomRecipients(result.RoomID, leaver)
		h.mu.Lock()
		h.dropRoomChannelLocked(result.RoomID)
		h.mu.Unlock()
		h.broadcast(recipients, dto.EventRoomClosed, nil)
		return
	}

	h.mu.Lock()
	h.leaveRoomChannelLocked(result.RoomID, leaver)
	h.syncRoomChannelLocked(result.RoomID, result.Remaining)
	h.mu.Unlock()
	h.broadcastPresence(result.RoomID, result.Remaining)
}

// broadcastPresence 向房间频道推送完整成员列表
func (h *Hub) broadcastPresence(roomID string, members []domain.Participant) {
	h.broadcast(h.roomRecipients(roomID, nil), dto.EventRoomUserList, dto.UserList{Users: members})
}

// syncRoomChannelLocked 让频道只包含当前绑定在房间成员上的连接。
// 用户重连后旧连接不再接收该房间的广播。
func (h *Hub) syncRoomChannelLocked(roomID string, members []domain.Participant) {
	bound := make(map[string]bool, len(members))
	for _, m := range members {
		bound[m.ConnectionID] = true
	}
	for client := range h.rooms[roomID] {
		if !bound[client.ID()] {
			h.leaveRoomChannelLocked(roomID, client)
		}
	}
	for _, m := range members {
		if client, ok := h.clients[m.ConnectionID]; ok {
			h.joinRoomChannelLocked(roomID, client)
		}
	}
}

func (h *Hub) handleJoinWorkspace(client *Client, env dto.Envelope) {
	workspaceID := decodeID(env.Data, "workspaceId")
	if workspaceID == "" {
		h.sendError(client, env.AckID, "workspaceId is required")
		return
	}
	h.mu.Lock()
	members, ok := h.workspaces[workspaceID]
	if !ok {
		members = make(map[*Client]bool)
		h.workspaces[workspaceID] = members
	}
	members[client] = true
	if client.workspaces == nil {
		client.workspaces = make(map[string]bool)
	}
	client.workspaces[workspaceID] = true
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"connection_id": client.ID(),
		"workspace_id":  workspaceID,
	}).Info("Client joined workspace chat")
	h.ack(client, env.AckID, dto.AckResult{Success: true})
}

// handleWorkspaceMessage 转发已由消息服务持久化的工作区消息，本身不存储
func (h *Hub) handleWorkspaceMessage(client *Client, env dto.Envelope) {
	var in dto.WorkspaceMessageIn
	if err := json.Unmarshal(env.Data, &in); err != nil || in.WorkspaceID == "" || len(in.MessageData) == 0 {
		h.sendError(client, env.AckID, "workspaceId and messageData are required")
		return
	}
	h.broadcast(h.workspaceRecipients(in.WorkspaceID, client), dto.EventReceiveMessage, in.MessageData)
	h.ack(client, env.AckID, dto.AckResult{Success: true})
}

// unknownEventLabel 是未识别事件在指标中的统一标签
const unknownEventLabel = "unknown"

var knownEvents = map[string]map[string]bool{
	NamespaceWhiteboard: {
		dto.EventCreateRoom:        true,
		dto.EventJoinRoom:          true,
		dto.EventGetRoomUsers:      true,
		dto.EventWhiteboardChanges: true,
		dto.EventMessage:           true,
		dto.EventLeaveRoom:         true,
	},
	NamespaceChat: {
		dto.EventJoinWorkspace: true,
		dto.EventSendMessage:   true,
	},
}

func eventLabel(namespace, event string) string {
	if knownEvents[namespace][event] {
		return event
	}
	return unknownEventLabel
}

// decodeID 接受裸字符串或者 {"<key>": "..."} 两种载荷
func decodeID(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
