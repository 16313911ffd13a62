package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"filecollection/internal/auth"
	"filecollection/internal/middleware"
	"filecollection/internal/publication"

	"github.com/gorilla/websocket"
)

const (
	liveWriteTimeout = 10 * time.Second
	liveReadLimit    = 64 * 1024
)

// LiveHandler 把 websocket 连接接入发布中心。
type LiveHandler struct {
	hub      *publication.Hub
	authn    auth.Authenticator
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewLiveHandler 创建实时通道端点。allowedOrigins 为空或包含 * 时不校验来源。
func NewLiveHandler(hub *publication.Hub, authn auth.Authenticator, allowedOrigins []string, logger *slog.Logger) *LiveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveHandler{
		hub:    hub,
		authn:  authn,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP 升级连接并处理客户端消息，初始身份取自请求上的令牌。
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(liveReadLimit)

	var writeMu sync.Mutex
	sink := func(m publication.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return conn.WriteJSON(m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := h.hub.Open(ctx, middleware.GetOwnerID(r.Context()), sink)
	defer session.Close()

	// 会话因写失败关闭时，中断阻塞中的读取
	go func() {
		<-session.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("live channel closed", "error", err)
			}
			return
		}

		var msg publication.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := sink(publication.Message{Msg: publication.MsgError, Error: "malformed message"}); err != nil {
				return
			}
			continue
		}

		if err := h.handle(ctx, session, sink, msg); err != nil {
			h.logger.Warn("live channel write failed", "error", err)
			return
		}
	}
}

func (h *LiveHandler) handle(ctx context.Context, session *publication.Session, sink publication.Sink, msg publication.Message) error {
	switch msg.Msg {
	case publication.MsgSub:
		claimed := ""
		if len(msg.Params) > 0 {
			claimed = msg.Params[0]
		}
		return session.Subscribe(msg.ID, msg.Name, claimed)

	case publication.MsgUnsub:
		return session.Unsubscribe(msg.ID)

	case publication.MsgLogin:
		identity, err := h.authenticate(ctx, msg.Token)
		if err != nil {
			return sink(publication.Message{Msg: publication.MsgResult, ID: msg.ID, Error: "invalid token"})
		}
		if err := session.SetIdentity(identity); err != nil {
			return err
		}
		return sink(publication.Message{Msg: publication.MsgResult, ID: msg.ID, UserID: &identity})

	case publication.MsgLogout:
		if err := session.SetIdentity(""); err != nil {
			return err
		}
		return sink(publication.Message{Msg: publication.MsgResult, ID: msg.ID})

	case publication.MsgPing:
		return sink(publication.Message{Msg: publication.MsgPong, ID: msg.ID})

	default:
		return sink(publication.Message{Msg: publication.MsgError, ID: msg.ID, Error: "unknown message " + msg.Msg})
	}
}

func (h *LiveHandler) authenticate(ctx context.Context, token string) (string, error) {
	if h.authn == nil {
		return "", errors.New("authentication disabled")
	}
	return h.authn.Authenticate(ctx, token)
}
