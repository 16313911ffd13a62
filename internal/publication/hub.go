package publication

import (
	"context"
	"log/slog"
	"sync"

	"filecollection/internal/metrics"
	"filecollection/internal/repository"
)

const defaultSessionBuffer = 256

// Source 提供订阅首次计算与重算时的快照。
type Source interface {
	Find(ctx context.Context, params repository.FindParams) ([]repository.FileRecord, error)
}

// Sink 把一帧消息写回客户端。
type Sink func(Message) error

// Hub 把存储层的变化分发给所有打开的会话。
type Hub struct {
	collection string
	source     Source
	logger     *slog.Logger
	buffer     int

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewHub 创建只发布 collection 这一个集合的分发中心。
func NewHub(collection string, source Source, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		collection: collection,
		source:     source,
		logger:     logger,
		buffer:     defaultSessionBuffer,
		sessions:   make(map[*Session]struct{}),
	}
}

// Collection 返回发布的集合名。
func (h *Hub) Collection() string {
	return h.collection
}

// Publish 非阻塞地投递变化；会话缓冲已满时改为请求全量重算。
func (h *Hub) Publish(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.sessions {
		select {
		case s.changes <- change:
		default:
			s.requestResync()
		}
	}
}

// Open 注册一个会话并启动其事件循环，ctx 结束或调用 Close 时会话关闭。
func (h *Hub) Open(ctx context.Context, authenticated string, sink Sink) *Session {
	s := &Session{
		hub:      h,
		sink:     sink,
		identity: authenticated,
		subs:     make(map[string]*subscription),
		docs:     make(map[string]*publishedDoc),
		changes:  make(chan Change, h.buffer),
		resync:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	metrics.LiveSessions.Inc()

	go s.pump()
	return s
}

// Sessions 返回当前打开的会话数。
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) detach(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if ok {
		metrics.LiveSessions.Dec()
	}
}
