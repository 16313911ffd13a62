package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"filecollection/internal/publication"
	"filecollection/internal/repository"

	"github.com/gorilla/websocket"
)

// Subscriber 维护一条实时通道，并在本地保存订阅结果的副本。
type Subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.RWMutex
	docs map[string]repository.FileRecord
}

// Dial 连接服务端的 /websocket 端点，token 非空时随握手提交。
func Dial(ctx context.Context, baseURL, token string) (*Subscriber, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/websocket")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return &Subscriber{conn: conn, docs: make(map[string]repository.FileRecord)}, nil
}

// Subscribe 以 claimed 身份订阅 name。
func (s *Subscriber) Subscribe(id, name, claimed string) error {
	return s.send(publication.Message{Msg: publication.MsgSub, ID: id, Name: name, Params: []string{claimed}})
}

func (s *Subscriber) Unsubscribe(id string) error {
	return s.send(publication.Message{Msg: publication.MsgUnsub, ID: id})
}

// Login 在通道上切换身份；结果以 result 消息返回。
func (s *Subscriber) Login(id, token string) error {
	return s.send(publication.Message{Msg: publication.MsgLogin, ID: id, Token: token})
}

func (s *Subscriber) Logout(id string) error {
	return s.send(publication.Message{Msg: publication.MsgLogout, ID: id})
}

func (s *Subscriber) Ping(id string) error {
	return s.send(publication.Message{Msg: publication.MsgPing, ID: id})
}

// Run 读取消息并同步本地副本，每条消息处理完后回调 fn。ctx 结束或连接断开时返回。
func (s *Subscriber) Run(ctx context.Context, fn func(publication.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		var msg publication.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		s.apply(msg)
		if fn != nil {
			fn(msg)
		}
	}
}

// Records 返回本地副本，按上传时间排序。
func (s *Subscriber) Records() []repository.FileRecord {
	s.mu.RLock()
	out := make([]repository.FileRecord, 0, len(s.docs))
	for _, rec := range s.docs {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].UploadDate.Before(out[j].UploadDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close 发送关闭帧并断开连接。
func (s *Subscriber) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Subscriber) apply(msg publication.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Msg {
	case publication.MsgAdded, publication.MsgChanged:
		if msg.Fields != nil {
			s.docs[msg.ID] = *msg.Fields
		}
	case publication.MsgRemoved:
		delete(s.docs, msg.ID)
	}
}

func (s *Subscriber) send(m publication.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(m)
}
