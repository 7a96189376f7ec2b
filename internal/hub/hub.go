package hub

import (
	"encoding/json"
	"sync"
	"time"

	"studysphere-realtime/internal/dto"
	"studysphere-realtime/internal/metrics"
	"studysphere-realtime/internal/service"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 画布快照是完整的编辑器状态，默认上限与原服务的请求体上限一致
	defaultMaxMessageSize = 10 << 20

	sendBufferSize = 256
)

// 命名空间，对应两个 WebSocket 入口
const (
	NamespaceWhiteboard = "whiteboard"
	NamespaceChat       = "chat"
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string // "register", "unregister", "event"
	Client  *Client
	RawData []byte // 仅用于 event (原始 WebSocket 帧)
}

// Hub 维护所有连接和房间频道。
// 所有事件都在 Run 的单个 goroutine 中按顺序处理，
// 因此同一连接的事件不会乱序，广播总是反映修改之后的成员状态。
type Hub struct {
	messageChan chan HubMessage
	quit        chan struct{}
	stopOnce    sync.Once

	// connectionId -> Client
	clients map[string]*Client
	// 白板房间频道 map[roomID]map[*Client]bool
	rooms map[string]map[*Client]bool
	// 工作区聊天频道 map[workspaceID]map[*Client]bool
	workspaces map[string]map[*Client]bool
	// 保护上面三个 map，HTTP 侧只读
	mu sync.RWMutex

	roomService *service.RoomService
	metrics     *metrics.Collector
}

// NewHub 创建并返回一个新的 Hub 实例。collector 可以为 nil。
func NewHub(roomService *service.RoomService, collector *metrics.Collector) *Hub {
	if roomService == nil {
		panic("RoomService cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		quit:        make(chan struct{}),
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[*Client]bool),
		workspaces:  make(map[string]map[*Client]bool),
		roomService: roomService,
		metrics:     collector,
	}
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for {
		select {
		case msg := <-h.messageChan:
			h.process(msg)
		case <-h.quit:
			h.closeAll()
			log.Info("Hub stopped")
			return
		}
	}
}

// Stop 停止事件循环并关闭所有客户端的发送通道，可重复调用。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Enqueue 把消息放入 Hub 队列。队列满时阻塞（对读协程形成背压），
// Hub 已停止时返回 false。
func (h *Hub) Enqueue(msg HubMessage) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.messageChan <- msg:
		return true
	case <-h.quit:
		return false
	}
}

// Register 请求 Hub 注册一个新连接。
func (h *Hub) Register(client *Client) bool {
	return h.Enqueue(HubMessage{Type: "register", Client: client})
}

// ClientCount 返回当前连接数。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) process(msg HubMessage) {
	if msg.Client == nil {
		logrus.WithField("type", msg.Type).Error("Hub: message without client")
		return
	}
	switch msg.Type {
	case "register":
		h.registerClient(msg.Client)
	case "unregister":
		h.unregisterClient(msg.Client)
	case "event":
		h.handleEvent(msg.Client, msg.RawData)
	default:
		logrus.WithFields(logrus.Fields{
			"type":          msg.Type,
			"connection_id": msg.Client.ID(),
		}).Warn("Hub: Received unknown message type")
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID()] = client
	h.mu.Unlock()
	h.metrics.ConnectionOpened(client.Namespace())
	logrus.WithFields(logrus.Fields{
		"connection_id": client.ID(),
		"namespace":     client.Namespace(),
	}).Info("Client registered to Hub")
}

// unregisterClient 对应连接断开：先按断开语义清理房间成员，再释放连接。
func (h *Hub) unregisterClient(client *Client) {
	logCtx := logrus.WithFields(logrus.Fields{
		"connection_id": client.ID(),
		"namespace":     client.Namespace(),
	})

	h.mu.RLock()
	_, known := h.clients[client.ID()]
	h.mu.RUnlock()
	if !known {
		// 重复的断开事件
		logCtx.Debug("Client already unregistered")
		return
	}

	if client.Namespace() == NamespaceWhiteboard {
		if result := h.roomService.Disconnect(client.ID()); result != nil {
			h.applyLeave(result, client)
		}
	}

	h.mu.Lock()
	delete(h.clients, client.ID())
	h.removeFromChannelsLocked(client)
	h.mu.Unlock()

	client.closeSend()
	h.metrics.ConnectionClosed(client.Namespace())
	logCtx.Info("Client unregistered from Hub")
}

func (h *Hub) handleEvent(client *Client, raw []byte) {
	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		logrus.WithField("connection_id", client.ID()).Debug("Dropping malformed frame")
		h.sendError(client, nil, "malformed frame")
		return
	}
	// 事件名来自客户端，未知事件统一记为 unknown，避免指标标签无限增长
	h.metrics.EventReceived(client.Namespace(), eventLabel(client.Namespace(), env.Event))

	switch client.Namespace() {
	case NamespaceWhiteboard:
		h.handleWhiteboardEvent(client, env)
	case NamespaceChat:
		h.handleChatEvent(client, env)
	}
}

// --- 频道管理，调用方负责加锁 ---

func (h *Hub) joinRoomChannelLocked(roomID string, client *Client) {
	// 一条白板连接同一时间只在一个房间频道里
	if client.room != "" && client.room != roomID {
		h.leaveRoomChannelLocked(client.room, client)
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[roomID] = members
	}
	members[client] = true
	client.room = roomID
}

func (h *Hub) leaveRoomChannelLocked(roomID string, client *Client) {
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if client.room == roomID {
		client.room = ""
	}
}

// dropRoomChannelLocked 在房间关闭后清空频道。
func (h *Hub) dropRoomChannelLocked(roomID string) {
	for client := range h.rooms[roomID] {
		if client.room == roomID {
			client.room = ""
		}
	}
	delete(h.rooms, roomID)
}

func (h *Hub) removeFromChannelsLocked(client *Client) {
	if client.room != "" {
		h.leaveRoomChannelLocked(client.room, client)
	}
	for workspaceID := range client.workspaces {
		if members, ok := h.workspaces[workspaceID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.workspaces, workspaceID)
			}
		}
	}
	client.workspaces = nil
}

// --- 发送 ---

// roomRecipients 复制频道成员，避免发送时持有锁
func (h *Hub) roomRecipients(roomID string, exclude *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyRecipients(h.rooms[roomID], exclude)
}

func (h *Hub) workspaceRecipients(workspaceID string, exclude *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyRecipients(h.workspaces[workspaceID], exclude)
}

func copyRecipients(members map[*Client]bool, exclude *Client) []*Client {
	out := make([]*Client, 0, len(members))
	for client := range members {
		if client != exclude {
			out = append(out, client)
		}
	}
	return out
}

// broadcast 将一帧发送给所有接收者，使用非阻塞发送，慢客户端不影响其他人。
func (h *Hub) broadcast(recipients []*Client, event string, data interface{}) {
	if len(recipients) == 0 {
		return
	}
	frame, err := dto.NewFrame(event, nil, data)
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Failed to marshal broadcast frame")
		return
	}
	sent := 0
	for _, client := range recipients {
		if client.trySend(frame) {
			sent++
			continue
		}
		h.metrics.FrameDropped()
		logrus.WithFields(logrus.Fields{
			"connection_id": client.ID(),
			"event":         event,
		}).Warn("Client send channel full during broadcast, skipping this client")
	}
	h.metrics.FramesSent(event, sent)
}

func (h *Hub) send(client *Client, event string, ackID *int64, data interface{}) {
	frame, err := dto.NewFrame(event, ackID, data)
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Failed to marshal frame")
		return
	}
	if !client.trySend(frame) {
		h.metrics.FrameDropped()
		logrus.WithField("connection_id", client.ID()).Warn("Client send channel full, frame dropped")
		return
	}
	h.metrics.FramesSent(event, 1)
}

// ack 只在客户端带了 ackId 时回包
func (h *Hub) ack(client *Client, ackID *int64, data interface{}) {
	if ackID == nil {
		return
	}
	h.send(client, dto.EventAck, ackID, data)
}

func (h *Hub) sendError(client *Client, ackID *int64, message string) {
	if ackID != nil {
		h.ack(client, ackID, dto.AckResult{Success: false, Message: message})
		return
	}
	h.send(client, dto.EventError, nil, dto.ErrorDTO{Message: message})
}

// closeAll 在 Hub 停止时关闭所有客户端的发送通道，WritePump 随之退出。
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.closeSend()
		delete(h.clients, id)
		h.metrics.ConnectionClosed(client.Namespace())
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.workspaces = make(map[string]map[*Client]bool)
}
