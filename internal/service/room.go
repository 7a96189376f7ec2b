package service

import (
	"errors"
	"strings"
	"sync"
	"time"

	"studysphere-realtime/internal/domain"
	"studysphere-realtime/internal/dto"
	"studysphere-realtime/internal/repository"

	"github.com/sirupsen/logrus"
)

// RoomEventSink 接收房间开启/关闭事件，用于会话历史。
// 在 RoomService 的临界区内被调用，实现必须立即返回，不能做阻塞 IO。
type RoomEventSink interface {
	RoomOpened(room domain.Room)
	RoomClosed(room domain.Room, reason string, closedAt time.Time)
}

type nopSink struct{}

func (nopSink) RoomOpened(domain.Room)                    {}
func (nopSink) RoomClosed(domain.Room, string, time.Time) {}

// NopRoomEventSink 丢弃所有房间事件。
var NopRoomEventSink RoomEventSink = nopSink{}

// JoinResult 描述一次 createRoom / joinRoom 之后的房间状态。
type JoinResult struct {
	Room          *domain.Room
	Members       []domain.Participant
	AlreadyMember bool
	// Previous 不为空表示该连接先离开了另一个房间
	Previous *LeaveResult
}

// LeaveResult 描述一次成员移除以及是否触发了房间关闭。
type LeaveResult struct {
	RoomID      string
	Removed     domain.Participant
	Closed      bool
	CloseReason string
	// Remaining 是移除后的成员。房间关闭时用于下发 roomClosed。
	Remaining []domain.Participant
}

// RoomService 负责房间成员管理。所有读写都在同一个互斥锁内完成，
// 保证每个事件对注册表的修改是原子的、广播看到的一定是修改后的状态。
type RoomService struct {
	mu    sync.Mutex
	store repository.RoomStore
	sink  RoomEventSink
	now   func() time.Time
}

// NewRoomService 创建 RoomService 实例。sink 为 nil 时不记录会话历史。
func NewRoomService(store repository.RoomStore, sink RoomEventSink) *RoomService {
	if store == nil {
		panic("RoomStore cannot be nil for RoomService")
	}
	if sink == nil {
		sink = NopRoomEventSink
	}
	return &RoomService{
		store: store,
		sink:  sink,
		now:   time.Now,
	}
}

// WithClock 替换时间来源，测试用。
func (s *RoomService) WithClock(now func() time.Time) *RoomService {
	s.now = now
	return s
}

// CreateRoom 创建房间，创建者作为唯一成员并标记为房主，绑定到当前连接。
func (s *RoomService) CreateRoom(req dto.RoomRequest, connectionID string) (*JoinResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":       req.RoomID,
		"user_id":       req.UserID,
		"connection_id": connectionID,
		"operation":     "CreateRoom",
	})
	if err := validateRoomRequest(req, connectionID); err != nil {
		logCtx.WithError(err).Warn("Rejected createRoom with incomplete payload")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Get(req.RoomID); err == nil {
		logCtx.Warn("Room already exists")
		return nil, ErrRoomExists
	}

	// 同一连接只能在一个房间里，先完整地离开旧房间
	previous := s.leaveOtherRoomLocked(connectionID, req.RoomID)

	room := &domain.Room{
		ID:          req.RoomID,
		Name:        req.RoomName,
		WorkspaceID: req.WorkspaceID,
		HostID:      req.UserID,
		Participants: []domain.Participant{{
			UserID:       req.UserID,
			UserName:     req.UserName,
			Host:         true,
			ConnectionID: connectionID,
		}},
		CreatedAt: s.now(),
		PeakSize:  1,
	}
	if err := s.store.Create(room); err != nil {
		if errors.Is(err, repository.ErrRoomExists) {
			return nil, ErrRoomExists
		}
		logCtx.WithError(err).Error("Failed to store new room")
		return nil, ErrInternalServer
	}
	s.store.BindConnection(connectionID, room.ID)
	s.sink.RoomOpened(*room.Clone())

	logCtx.WithField("workspace_id", room.WorkspaceID).Info("Room created")
	return &JoinResult{Room: room.Clone(), Members: room.Members(), Previous: previous}, nil
}

// JoinRoom 把用户加入已存在的房间。
// 校验顺序：房间存在且 roomName/roomId 一致，然后工作区一致。
// 已在房间内的用户重复加入视为成功，并刷新连接 ID（重连场景）。
func (s *RoomService) JoinRoom(req dto.RoomRequest, connectionID string) (*JoinResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":       req.RoomID,
		"user_id":       req.UserID,
		"connection_id": connectionID,
		"operation":     "JoinRoom",
	})
	if err := validateRoomRequest(req, connectionID); err != nil {
		logCtx.WithError(err).Warn("Rejected joinRoom with incomplete payload")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.store.Get(req.RoomID)
	if err != nil || room.Name != req.RoomName || room.ID != req.RoomID {
		logCtx.Warn("Join rejected: room not found or name mismatch")
		return nil, ErrRoomNotFound
	}
	if room.WorkspaceID != req.WorkspaceID {
		logCtx.WithField("workspace_id", req.WorkspaceID).Warn("Join rejected: wrong workspace")
		return nil, ErrWrongWorkspace
	}

	// 连接已以其他身份在本房间中，不允许一条连接承载两个成员
	if roomID, bound := s.store.RoomForConnection(connectionID); bound && roomID == room.ID {
		if idx := room.IndexOfConnection(connectionID); idx >= 0 && room.Participants[idx].UserID != req.UserID {
			logCtx.Warn("Join rejected: connection already bound to another user in this room")
			return nil, ErrInvalidInput
		}
	}

	previous := s.leaveOtherRoomLocked(connectionID, room.ID)

	isHost := req.UserID == room.HostID
	result := &JoinResult{Previous: previous}

	if idx := room.IndexOfUser(req.UserID); idx >= 0 {
		// 重复加入：不新增成员，只重新绑定连接
		member := room.Participants[idx]
		if member.ConnectionID != connectionID {
			s.store.UnbindConnection(member.ConnectionID)
			member.ConnectionID = connectionID
		}
		room.Participants = append(room.Participants[:idx], room.Participants[idx+1:]...)
		if isHost {
			room.Participants = append([]domain.Participant{member}, room.Participants...)
		} else {
			room.Participants = insertAt(room.Participants, idx, member)
		}
		result.AlreadyMember = true
	} else {
		member := domain.Participant{
			UserID:       req.UserID,
			UserName:     req.UserName,
			Host:         isHost,
			ConnectionID: connectionID,
		}
		if isHost {
			room.Participants = append([]domain.Participant{member}, room.Participants...)
		} else {
			room.Participants = append(room.Participants, member)
		}
	}
	if n := len(room.Participants); n > room.PeakSize {
		room.PeakSize = n
	}

	if err := s.store.Update(room); err != nil {
		logCtx.WithError(err).Error("Failed to update room membership")
		return nil, ErrInternalServer
	}
	s.store.BindConnection(connectionID, room.ID)

	logCtx.WithFields(logrus.Fields{
		"already_member": result.AlreadyMember,
		"member_count":   len(room.Participants),
	}).Info("User joined room")
	result.Room = room.Clone()
	result.Members = room.Members()
	return result, nil
}

// LeaveRoom 处理显式离开。找不到连接对应的成员时返回 ErrNotInRoom。
func (s *RoomService) LeaveRoom(connectionID string) (*LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeConnectionLocked(connectionID)
}

// Disconnect 处理连接意外断开。没有对应成员是正常竞态（重复断开等），返回 nil。
func (s *RoomService) Disconnect(connectionID string) *LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.removeConnectionLocked(connectionID)
	if err != nil {
		logrus.WithField("connection_id", connectionID).Debug("Disconnect: connection not bound to any room")
		return nil
	}
	return result
}

// GetMembers 返回房间成员，房间不存在时返回空列表。
func (s *RoomService) GetMembers(roomID string) []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.store.Get(roomID)
	if err != nil {
		return []domain.Participant{}
	}
	return room.Members()
}

// RoomExists 判断房间是否处于开启状态。
func (s *RoomService) RoomExists(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.store.Get(roomID)
	return err == nil
}

// ListWorkspaceRooms 返回工作区内当前开启的房间。
func (s *RoomService) ListWorkspaceRooms(workspaceID string) []dto.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summaries := []dto.RoomSummary{}
	for _, room := range s.store.List() {
		if room.WorkspaceID != workspaceID {
			continue
		}
		summaries = append(summaries, dto.RoomSummary{
			RoomID:           room.ID,
			RoomName:         room.Name,
			ParticipantCount: len(room.Participants),
		})
	}
	return summaries
}

// Stats 返回开启的房间数和在线成员总数，供监控使用。
func (s *RoomService) Stats() (rooms int, participants int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.store.List() {
		rooms++
		participants += len(room.Participants)
	}
	return rooms, participants
}

// ValidateSnapshot 判断一帧画布快照是否应当转发。
// 空快照、未知房间、发送者不在该房间时静默丢弃。
func (s *RoomService) ValidateSnapshot(roomID, connectionID string, snapshot []byte) bool {
	if roomID == "" || isEmptyPayload(snapshot) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isBoundLocked(connectionID, roomID)
}

// PrepareChat 校验房间聊天消息并打上服务端时间戳。
func (s *RoomService) PrepareChat(connectionID string, in dto.ChatIn) (domain.ChatMessage, bool) {
	content := in.Content
	if content == "" {
		content = in.Message
	}
	if in.RoomID == "" || strings.TrimSpace(content) == "" {
		return domain.ChatMessage{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isBoundLocked(connectionID, in.RoomID) {
		return domain.ChatMessage{}, false
	}
	msg := domain.ChatMessage{
		RoomID:    in.RoomID,
		Content:   content,
		Message:   content,
		UserID:    in.UserID,
		UserName:  in.UserName,
		Timestamp: domain.FormatChatTimestamp(s.now()),
	}
	// 载荷里缺少身份信息时用成员记录补齐
	if msg.UserID == "" || msg.UserName == "" {
		if room, err := s.store.Get(in.RoomID); err == nil {
			if idx := room.IndexOfConnection(connectionID); idx >= 0 {
				if msg.UserID == "" {
					msg.UserID = room.Participants[idx].UserID
				}
				if msg.UserName == "" {
					msg.UserName = room.Participants[idx].UserName
				}
			}
		}
	}
	return msg, true
}

// --- 私有辅助函数 ---

func (s *RoomService) isBoundLocked(connectionID, roomID string) bool {
	bound, ok := s.store.RoomForConnection(connectionID)
	return ok && bound == roomID
}

// leaveOtherRoomLocked 在连接已绑定到另一个房间时先执行离开（含关闭级联）。
func (s *RoomService) leaveOtherRoomLocked(connectionID, targetRoomID string) *LeaveResult {
	roomID, bound := s.store.RoomForConnection(connectionID)
	if !bound || roomID == targetRoomID {
		return nil
	}
	result, err := s.removeConnectionLocked(connectionID)
	if err != nil {
		return nil
	}
	return result
}

// removeConnectionLocked 是 leave 和 disconnect 共用的移除逻辑。
// 房主离开优先于“房间变空”的清理判断。
func (s *RoomService) removeConnectionLocked(connectionID string) (*LeaveResult, error) {
	roomID, ok := s.store.RoomForConnection(connectionID)
	if !ok {
		return nil, ErrNotInRoom
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":       roomID,
		"connection_id": connectionID,
	})

	room, err := s.store.Get(roomID)
	if err != nil {
		s.store.UnbindConnection(connectionID)
		return nil, ErrNotInRoom
	}
	idx := room.IndexOfConnection(connectionID)
	if idx < 0 {
		// 索引过期（成员已经重连到新连接）
		s.store.UnbindConnection(connectionID)
		return nil, ErrNotInRoom
	}

	removed := room.Participants[idx]
	room.Participants = append(room.Participants[:idx], room.Participants[idx+1:]...)
	s.store.UnbindConnection(connectionID)

	result := &LeaveResult{
		RoomID:    roomID,
		Removed:   removed,
		Remaining: room.Members(),
	}
	logCtx = logCtx.WithField("user_id", removed.UserID)

	switch {
	case removed.Host:
		result.Closed = true
		result.CloseReason = domain.CloseReasonHostLeft
	case len(room.Participants) == 0:
		result.Closed = true
		result.CloseReason = domain.CloseReasonEmpty
	}

	if result.Closed {
		s.store.Delete(roomID)
		s.sink.RoomClosed(*room, result.CloseReason, s.now())
		logCtx.WithField("reason", result.CloseReason).Info("Room closed")
		return result, nil
	}

	if err := s.store.Update(room); err != nil {
		logCtx.WithError(err).Error("Failed to update room after removal")
		return nil, ErrInternalServer
	}
	logCtx.WithField("member_count", len(room.Participants)).Info("Participant removed from room")
	return result, nil
}

func validateRoomRequest(req dto.RoomRequest, connectionID string) error {
	if req.RoomID == "" || req.RoomName == "" || req.WorkspaceID == "" || req.UserID == "" || connectionID == "" {
		return ErrInvalidInput
	}
	return nil
}

// isEmptyPayload 对应前端 JS 的假值判断：null、""、false、0 都视为空。
func isEmptyPayload(raw []byte) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`, "false", "0":
		return true
	}
	return false
}

func insertAt(list []domain.Participant, idx int, p domain.Participant) []domain.Participant {
	if idx >= len(list) {
		return append(list, p)
	}
	list = append(list, domain.Participant{})
	copy(list[idx+1:], list[idx:])
	list[idx] = p
	return list
}
