package websocket_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	wshandler "studysphere-realtime/internal/handler/websocket"
	"studysphere-realtime/internal/hub"
	memorystate "studysphere-realtime/internal/infra/state/memory"
	"studysphere-realtime/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Event string          `json:"event"`
	AckID *int64          `json:"ackId"`
	Data  json.RawMessage `json:"data"`
}

type participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Host     bool   `json:"host"`
}

func setupServer(t *testing.T, allowedOrigin string) (*httptest.Server, *service.RoomService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := service.NewRoomService(memorystate.NewRoomStore(), nil)
	h := hub.NewHub(svc, nil)
	go h.Run()
	t.Cleanup(h.Stop)

	handler := wshandler.NewWebSocketHandler(h, allowedOrigin, 1<<20)
	router := gin.New()
	router.GET("/ws/whiteboard", handler.HandleWhiteboard)
	router.GET("/ws/chat", handler.HandleChat)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, svc
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, ackID int64, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	id := ackID
	require.NoError(t, conn.WriteJSON(frame{Event: event, AckID: &id, Data: payload}))
}

// readUntil 读取帧直到出现指定事件
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %q", event)
		if f.Event == event {
			return f
		}
	}
}

func roomPayload(userID, userName string, host bool) map[string]interface{} {
	return map[string]interface{}{
		"roomId":      "r1",
		"roomName":    "Study",
		"workspaceId": "w1",
		"userId":      userID,
		"userName":    userName,
		"host":        host,
	}
}

func TestWhiteboard_EndToEnd(t *testing.T) {
	server, svc := setupServer(t, "")
	alice := dial(t, server, "/ws/whiteboard")
	bob := dial(t, server, "/ws/whiteboard")

	send(t, alice, "createRoom", 1, roomPayload("u1", "Alice", true))
	ack := readUntil(t, alice, "ack")
	require.NotNil(t, ack.AckID)
	assert.Equal(t, int64(1), *ack.AckID)
	assert.JSONEq(t, `{"success":true}`, string(ack.Data))

	send(t, bob, "joinRoom", 2, roomPayload("u2", "Bob", false))
	assert.JSONEq(t, `{"success":true}`, string(readUntil(t, bob, "ack").Data))

	var list struct {
		Users []participant `json:"users"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, bob, "roomUserList").Data, &list))
	assert.Equal(t, []participant{
		{UserID: "u1", UserName: "Alice", Host: true},
		{UserID: "u2", UserName: "Bob", Host: false},
	}, list.Users)

	// 画布快照转发给对方
	send(t, bob, "whiteboard-changes", 3, map[string]interface{}{
		"roomId":   "r1",
		"snapshot": map[string]interface{}{"elements": []interface{}{map[string]interface{}{"id": "e1"}}},
	})
	snap := readUntil(t, alice, "whiteboard-changes")
	assert.JSONEq(t, `{"elements":[{"id":"e1"}]}`, string(snap.Data))

	// 房主断开，房间关闭
	require.NoError(t, alice.Close())
	readUntil(t, bob, "roomClosed")
	assert.Eventually(t, func() bool { return !svc.RoomExists("r1") }, time.Second, 10*time.Millisecond)
}

func TestWhiteboard_JoinUnknownRoom(t *testing.T) {
	server, _ := setupServer(t, "")
	conn := dial(t, server, "/ws/whiteboard")

	send(t, conn, "joinRoom", 1, roomPayload("u2", "Bob", false))

	assert.JSONEq(t, `{"success":false,"message":"Room not found"}`, string(readUntil(t, conn, "ack").Data))
}

func TestChat_RelaysWorkspaceMessages(t *testing.T) {
	server, _ := setupServer(t, "")
	alice := dial(t, server, "/ws/chat")
	bob := dial(t, server, "/ws/chat")

	send(t, alice, "joinWorkspace", 1, "w1")
	readUntil(t, alice, "ack")
	send(t, bob, "joinWorkspace", 1, "w1")
	readUntil(t, bob, "ack")

	send(t, alice, "sendMessage", 2, map[string]interface{}{
		"workspaceId": "w1",
		"messageData": map[string]string{"text": "hello"},
	})

	msg := readUntil(t, bob, "receiveMessage")
	assert.JSONEq(t, `{"text":"hello"}`, string(msg.Data))
}

func TestUpgrade_RejectsForeignOrigin(t *testing.T) {
	server, _ := setupServer(t, "http://localhost:5173")
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/whiteboard"

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
