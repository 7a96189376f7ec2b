package websocket

import (
	"net/http"

	"studysphere-realtime/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	hub            *hub.Hub
	maxMessageSize int64
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时不校验来源。
func NewWebSocketHandler(h *hub.Hub, allowedOrigin string, maxMessageSize int64) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// 非浏览器客户端不带 Origin
			if origin == "" || allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:       upgrader,
		hub:            h,
		maxMessageSize: maxMessageSize,
	}
}

// HandleWhiteboard 处理 /ws/whiteboard：房间、画布同步、房间聊天
func (h *WebSocketHandler) HandleWhiteboard(c *gin.Context) {
	h.serve(c, hub.NamespaceWhiteboard)
}

// HandleChat 处理 /ws/chat：工作区聊天转发
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	h.serve(c, hub.NamespaceChat)
}

func (h *WebSocketHandler) serve(c *gin.Context, namespace string) {
	logCtx := logrus.WithFields(logrus.Fields{
		"namespace": namespace,
		"remote":    c.ClientIP(),
	})

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误响应
		logCtx.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, namespace, h.maxMessageSize)
	logCtx = logCtx.WithField("connection_id", client.ID())

	if !h.hub.Register(client) {
		logCtx.Warn("WS Handler: Hub stopped, rejecting connection")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	// 注册先于读协程入队，Hub 看到的第一条消息一定是 register
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}
