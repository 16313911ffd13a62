package publication

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"filecollection/internal/metrics"
	"filecollection/internal/repository"
)

type subscription struct {
	id      string
	claimed string
	query   Query
	ids     map[string]struct{}
}

// publishedDoc 记录已推送给客户端的文档，多个订阅可能共享同一文档。
type publishedDoc struct {
	record repository.FileRecord
	refs   int
}

// Session 对应一条实时通道：一个认证身份加若干订阅。
type Session struct {
	hub    *Hub
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	identity string
	subs     map[string]*subscription
	docs     map[string]*publishedDoc

	changes   chan Change
	resync    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Identity 返回会话当前的认证身份。
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Subscribe 建立或替换订阅 id，推送初始结果后发送 ready。
func (s *Session) Subscribe(id, name, claimed string) error {
	if name != s.hub.collection {
		return s.sink(Message{Msg: MsgNoSub, ID: id, Error: fmt.Sprintf("unknown publication %q", name)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		sub = &subscription{id: id, ids: make(map[string]struct{})}
		s.subs[id] = sub
		metrics.LiveSubscriptions.Inc()
	}
	sub.claimed = claimed

	if err := s.refreshLocked(sub); err != nil {
		return err
	}
	return s.sink(Message{Msg: MsgReady, Subs: []string{id}})
}

// Unsubscribe 撤销订阅并移除只属于它的文档。
func (s *Session) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return s.sink(Message{Msg: MsgNoSub, ID: id})
	}
	for docID := range sub.ids {
		if err := s.releaseLocked(sub, docID); err != nil {
			return err
		}
	}
	delete(s.subs, id)
	metrics.LiveSubscriptions.Dec()
	return s.sink(Message{Msg: MsgNoSub, ID: id})
}

// SetIdentity 切换认证身份，并以各订阅原先声明的身份重算全部订阅。
// 声明身份已过期的订阅会被清空，直到客户端用新身份重新订阅。
func (s *Session) SetIdentity(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if identity == s.identity {
		return nil
	}
	s.identity = identity
	return s.refreshAllLocked()
}

// Close 关闭会话并从分发中心注销，可重复调用。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
		s.hub.detach(s)

		s.mu.Lock()
		metrics.LiveSubscriptions.Sub(float64(len(s.subs)))
		s.subs = map[string]*subscription{}
		s.mu.Unlock()
	})
}

// Done 在会话关闭后可读。
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) requestResync() {
	select {
	case s.resync <- struct{}{}:
		metrics.LiveResyncs.Inc()
	default:
	}
}

func (s *Session) pump() {
	defer s.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case change := <-s.changes:
			if err := s.apply(change); err != nil {
				s.hub.logger.Warn("live session write failed", "error", err)
				return
			}
		case <-s.resync:
			if err := s.resyncAll(); err != nil {
				s.hub.logger.Warn("live session resync failed", "error", err)
				return
			}
		}
	}
}

func (s *Session) apply(change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := change.Record
	for _, sub := range s.subs {
		matched := change.Kind == ChangeUpserted && sub.query.Matches(&rec)
		_, had := sub.ids[rec.ID]
		switch {
		case matched:
			if err := s.publishLocked(sub, rec); err != nil {
				return err
			}
		case had:
			if err := s.releaseLocked(sub, rec.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// resyncAll 丢弃积压事件后从数据源重算全部订阅。
func (s *Session) resyncAll() error {
	for {
		select {
		case <-s.changes:
			continue
		default:
		}
		break
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshAllLocked()
}

func (s *Session) refreshAllLocked() error {
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := s.refreshLocked(s.subs[id]); err != nil {
			return err
		}
	}
	return nil
}

// refreshLocked 重新解析订阅的查询，并把客户端视图与数据源对齐。
func (s *Session) refreshLocked(sub *subscription) error {
	sub.query = Resolve(sub.claimed, s.identity)

	current := map[string]repository.FileRecord{}
	if params, ok := sub.query.FindParams(); ok {
		records, err := s.hub.source.Find(s.ctx, params)
		if err != nil {
			return fmt.Errorf("load publication: %w", err)
		}
		for _, rec := range records {
			if sub.query.Matches(&rec) {
				current[rec.ID] = rec
			}
		}
	}

	stale := make([]string, 0)
	for id := range sub.ids {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	for _, id := range stale {
		if err := s.releaseLocked(sub, id); err != nil {
			return err
		}
	}

	fresh := make([]repository.FileRecord, 0, len(current))
	for _, rec := range current {
		fresh = append(fresh, rec)
	}
	sort.Slice(fresh, func(i, j int) bool {
		if !fresh[i].UploadDate.Equal(fresh[j].UploadDate) {
			return fresh[i].UploadDate.Before(fresh[j].UploadDate)
		}
		return fresh[i].ID < fresh[j].ID
	})
	for _, rec := range fresh {
		if err := s.publishLocked(sub, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) publishLocked(sub *subscription, rec repository.FileRecord) error {
	if _, ok := sub.ids[rec.ID]; !ok {
		sub.ids[rec.ID] = struct{}{}
		if doc, shared := s.docs[rec.ID]; shared {
			doc.refs++
		} else {
			s.docs[rec.ID] = &publishedDoc{record: rec, refs: 1}
			return s.send(MsgAdded, rec)
		}
	}

	doc := s.docs[rec.ID]
	if sameRecord(doc.record, rec) {
		return nil
	}
	doc.record = rec
	return s.send(MsgChanged, rec)
}

func (s *Session) releaseLocked(sub *subscription, id string) error {
	if _, ok := sub.ids[id]; !ok {
		return nil
	}
	delete(sub.ids, id)

	doc, ok := s.docs[id]
	if !ok {
		return nil
	}
	doc.refs--
	if doc.refs > 0 {
		return nil
	}
	delete(s.docs, id)
	return s.sink(Message{Msg: MsgRemoved, Collection: s.hub.collection, ID: id})
}

func (s *Session) send(kind string, rec repository.FileRecord) error {
	fields := rec
	return s.sink(Message{Msg: kind, Collection: s.hub.collection, ID: rec.ID, Fields: &fields})
}

func sameRecord(a, b repository.FileRecord) bool {
	return a.ID == b.ID &&
		a.Filename == b.Filename &&
		a.ContentType == b.ContentType &&
		a.Length == b.Length &&
		a.ChunkSize == b.ChunkSize &&
		a.MD5 == b.MD5 &&
		a.Metadata.Owner == b.Metadata.Owner &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
