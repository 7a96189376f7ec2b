package domain

import "time"

// ChatTimestampLayout 与前端 Date.toISOString() 的格式保持一致。
const ChatTimestampLayout = "2006-01-02T15:04:05.000Z"

// ChatMessage 是房间内转发的临时聊天消息，不落库。
type ChatMessage struct {
	RoomID    string `json:"-"`
	Content   string `json:"content"`
	Message   string `json:"message"` // 与 Content 相同，兼容读取 data.message 的旧前端
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp string `json:"timestamp"`
}

// FormatChatTimestamp 将服务端时间格式化为 UTC 毫秒精度字符串。
func FormatChatTimestamp(t time.Time) string {
	return t.UTC().Format(ChatTimestampLayout)
}
