package publication

import "filecollection/internal/repository"

// 实时通道的消息类型。
const (
	MsgSub     = "sub"
	MsgUnsub   = "unsub"
	MsgLogin   = "login"
	MsgLogout  = "logout"
	MsgPing    = "ping"
	MsgPong    = "pong"
	MsgAdded   = "added"
	MsgChanged = "changed"
	MsgRemoved = "removed"
	MsgReady   = "ready"
	MsgNoSub   = "nosub"
	MsgResult  = "result"
	MsgError   = "error"
)

// Message 是实时通道上双向传输的 JSON 帧。
type Message struct {
	Msg        string                 `json:"msg"`
	ID         string                 `json:"id,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Params     []string               `json:"params,omitempty"`
	Collection string                 `json:"collection,omitempty"`
	Fields     *repository.FileRecord `json:"fields,omitempty"`
	Subs       []string               `json:"subs,omitempty"`
	Token      string                 `json:"token,omitempty"`
	UserID     *string                `json:"userId,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// ChangeKind 区分记录变化的类型。
type ChangeKind int

const (
	ChangeUpserted ChangeKind = iota
	ChangeRemoved
)

// Change 是存储层在写入成功后广播的事件。
type Change struct {
	Kind   ChangeKind
	Record repository.FileRecord
}
