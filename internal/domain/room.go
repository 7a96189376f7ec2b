package domain

import "time"

// Participant 表示用户在某个房间中的成员记录，绑定到一条实时连接。
type Participant struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Host         bool   `json:"host"`
	ConnectionID string `json:"-"` // 当前连接 ID，重连时会被刷新，不下发给客户端
}

// Room 表示一个协作白板房间，仅存在于内存中。
type Room struct {
	ID           string        // 创建者提供的房间码
	Name         string        // 创建时确定，生命周期内不可变
	WorkspaceID  string        // 所属工作区，用于校验加入者
	HostID       string        // 创建者的 userId
	Participants []Participant // 有序，房主在最前
	CreatedAt    time.Time
	PeakSize     int // 房间生命周期内的最大成员数，写入会话历史
}

// Clone 返回房间的深拷贝，存储层对外只暴露副本。
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Participants = append([]Participant(nil), r.Participants...)
	return &cp
}

// IndexOfUser 返回 userId 在成员列表中的下标，不存在时返回 -1。
func (r *Room) IndexOfUser(userID string) int {
	for i, p := range r.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// IndexOfConnection 返回绑定到 connectionId 的成员下标，不存在时返回 -1。
func (r *Room) IndexOfConnection(connectionID string) int {
	for i, p := range r.Participants {
		if p.ConnectionID == connectionID {
			return i
		}
	}
	return -1
}

// Members 返回成员列表的副本，用于广播和查询。
func (r *Room) Members() []Participant {
	if r == nil {
		return []Participant{}
	}
	return append([]Participant{}, r.Participants...)
}
