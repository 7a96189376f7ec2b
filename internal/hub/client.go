package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// room 和 workspaces 只在 Hub 的事件循环里读写。
type Client struct {
	hub       *Hub            // 所属的 Hub
	conn      *websocket.Conn // 底层 WebSocket 连接
	id        string          // 连接 ID，服务端生成
	namespace string          // whiteboard 或 chat
	send      chan []byte     // 待发送消息的缓冲通道

	maxMessageSize int64 // 单帧读取上限

	room       string          // 当前所在的房间频道
	workspaces map[string]bool // 已订阅的工作区频道

	sendMu sync.Mutex // 保护 send 的关闭
	closed bool
}

// NewClient 创建一个新的 Client 实例，连接 ID 由服务端生成。
// maxMessageSize <= 0 时使用默认上限。
func NewClient(hub *Hub, conn *websocket.Conn, namespace string, maxMessageSize int64) *Client {
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}
	return &Client{
		hub:            hub,
		conn:           conn,
		id:             uuid.NewString(),
		namespace:      namespace,
		send:           make(chan []byte, sendBufferSize),
		maxMessageSize: maxMessageSize,
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ID 返回连接 ID
func (c *Client) ID() string        { return c.id }
func (c *Client) Namespace() string { return c.namespace }

// trySend 非阻塞地把一帧放进发送缓冲，缓冲已满或已关闭时返回 false。
func (c *Client) trySend(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道，重复调用安全
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的 messageChan。
// 入队是阻塞的，同一连接的事件按到达顺序处理。
func (c *Client) ReadPump() {
	logCtx := logrus.WithFields(logrus.Fields{
		"connection_id": c.id,
		"namespace":     c.namespace,
	})
	defer func() {
		// 请求 Hub 注销此客户端；Hub 已停止时 Enqueue 直接返回
		c.hub.Enqueue(HubMessage{Type: "unregister", Client: c})
		c.conn.Close()
		logCtx.Info("readPump exited, unregistered client")
	}()

	// 设置读取限制和心跳超时
	c.conn.SetReadLimit(c.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	// 收到 Pong 时续期读超时
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 循环读取消息
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			return
		}

		if messageType != websocket.TextMessage {
			logCtx.Debugf("Received non-text message type: %d", messageType)
			continue
		}
		// 交给 Hub 的事件循环处理
		if !c.hub.Enqueue(HubMessage{Type: "event", Client: c, RawData: message}) {
			return
		}
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod) // 定时发送 Ping
	logCtx := logrus.WithField("connection_id", c.id)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭了（注销或停机）
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 每帧单独写出
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{}) // 清除写超时

		case <-ticker.C:
			// 发送心跳
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}
