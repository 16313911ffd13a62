package publication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"filecollection/internal/repository"
	"filecollection/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
	fail error
}

func (r *recordingSink) write(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingSink) take() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

func (r *recordingSink) waitFor(t *testing.T, n int) []Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.msgs)
		r.mu.Unlock()
		if got >= n {
			return r.take()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(r.take()))
	return nil
}

func seedRepo(t *testing.T, records ...repository.FileRecord) *memory.FileRepository {
	t.Helper()
	repo := memory.NewFileRepository()
	for i := range records {
		_, err := repo.Create(context.Background(), &records[i])
		require.NoError(t, err)
	}
	return repo
}

func owned(id, owner string) repository.FileRecord {
	return repository.FileRecord{ID: id, Filename: id + ".txt", Metadata: repository.FileMetadata{Owner: owner}}
}

func msgKinds(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Msg + ":" + m.ID
	}
	return out
}

func TestSession_SubscribeReturnsOnlyOwnCompletedRecords(t *testing.T) {
	chunk := owned("a-chunk-1", "u1")
	chunk.Metadata.PartialChunk = &repository.ChunkRef{FileID: "a", Number: 1}
	repo := seedRepo(t, owned("a", "u1"), owned("b", "u2"), chunk)

	hub := NewHub("myData", repo, nil)
	sink := &recordingSink{}
	s := hub.Open(context.Background(), "u1", sink.write)
	defer s.Close()

	require.NoError(t, s.Subscribe("1", "myData", "u1"))
	msgs := sink.take()
	assert.Equal(t, []string{"added:a", "ready:"}, msgKinds(msgs))
	assert.Equal(t, "myData", msgs[0].Collection)
	require.NotNil(t, msgs[0].Fields)
	assert.Equal(t, "u1", msgs[0].Fields.Metadata.Owner)
	assert.Equal(t, []string{"1"}, msgs[1].Subs)
}

func TestSession_ClaimedIdentityMismatchYieldsNothing(t *testing.T) {
	repo := seedRepo(t, owned("a", "u1"), owned("b", "u2"))

	hub := NewHub("myData", repo, nil)
	sink := &recordingSink{}
	s := hub.Open(context.Background(), "u2", sink.write)
	defer s.Close()

	require.NoError(t, s.Subscribe("1", "myData", "u1"))
	assert.Equal(t, []string{"ready:"}, msgKinds(sink.take()))
}

func TestSession_IdentityChangeClearsStaleSubscription(t *testing.T) {
	repo := seedRepo(t, owned("a", "u1"), owned("b", "u2"))

	hub := NewHub("myData", repo, nil)
	sink := &recordingSink{}
	s := hub.Open(context.Background(), "u1", sink.write)
	defer s.Close()

	require.NoError(t, s.Subscribe("1", "myData", "u1"))
	sink.take()

	// 身份切换后旧订阅以过期身份重算，应清空
	require.NoError(t, s.SetIdentity("u2"))
	assert.Equal(t, []string{"removed:a"}, msgKinds(sink.take()))

	// 客户端用新身份重新订阅
	require.NoError(t, s.Subscribe("1", "myData", "u2"))
	assert.Equal(t, []string{"added:b", "ready:"}, msgKinds(sink.take()))

	// 重复设置同一身份不产生消息
	require.NoError(t, s.SetIdentity("u2"))
	assert.Empty(t, sink.take())
}

func TestSession_UnknownPublication(t *testing.T) {
	hub := NewHub("myData", seedRepo(t), nil)
	sink := &recordingSink{}
	s := hub.Open(context.Background(), "u1", sink.write)
	defer s.Close()

	require.NoError(t, s.Subscribe("7", "other", "u1"))
	msgs := sink.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgNoSub, msgs[0].Msg)
	assert.NotEmpty(t, msgs[0].Error)
}

func TestSession_SharedDocumentsAcrossSubscriptions(t *testing.T) {
	repo := seedRepo(t, owned("a", "u1"))

	hub := NewHub("myData", repo, nil)
	sink := &recordingSink{}
	s := hub.Open(context.Background(), "u1", sink.write)
	defer s.Close()

	require.NoError(t, s.Subscribe("1", "myData", "u1"))
	require.NoError(t, s.Subscribe("2", "myData", "u1"))
	assert.Equal(t, []string{"added:a", "ready:", "ready:"}, msgKinds(sink.take()))

	require.NoError(t, s.Unsubscribe("1"))
	assert.Equal(t, []string{"nosub:1"}, msgKinds(sink.take()))

	require.NoError(t, s.Unsubscribe("2"))
	assert.Equal(t, []string{"removed:a", "nosub:2"}, msgKinds(sink.take()))
}

func TestHub_PublishDeliversMatchingChanges(t *testing.T) {
	repo := seedRepo(t)
	hub := NewHub("myData", repo, nil)
	sink := &recordingSink{}
	s := hub.Open(context.Background(), "u1", sink.write)
	defer s.Close()

	require.NoError(t, s.Subscribe("1", "myData", "u1"))
	sink.take()

	chunk := owned("x-chunk-1", "u1")
	chunk.Metadata.PartialChunk = &repository.ChunkRef{FileID: "x", Number: 1}
	hub.Publish(Change{Kind: ChangeUpserted, Record: chunk})
	hub.Publish(Change{Kind: ChangeUpserted, Record: owned("y", "u2")})

	rec := owned("x", "u1")
	hub.Publish(Change{Kind: ChangeUpserted, Record: rec})
	assert.Equal(t, []string{"added:x"}, msgKinds(sink.waitFor(t, 1)))

	rec.Length = 10
	rec.MD5 = "abc"
	hub.Publish(Change{Kind: ChangeUpserted, Record: rec})
	msgs := sink.waitFor(t, 1)
	assert.Equal(t, []string{"changed:x"}, msgKinds(msgs))
	assert.Equal(t, int64(10), msgs[0].Fields.Length)

	hub.Publish(Change{Kind: ChangeRemoved, Record: rec})
	assert.Equal(t, []string{"removed:x"}, msgKinds(sink.waitFor(t, 1)))
}

func TestHub_SinkFailureClosesSession(t *testing.T) {
	hub := NewHub("myData", seedRepo(t), nil)
	sink := &recordingSink{}
	s := hub.Open(context.Background(), "u1", sink.write)

	require.NoError(t, s.Subscribe("1", "myData", "u1"))
	require.Equal(t, 1, hub.Sessions())

	sink.mu.Lock()
	sink.fail = errors.New("broken pipe")
	sink.mu.Unlock()

	hub.Publish(Change{Kind: ChangeUpserted, Record: owned("z", "u1")})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session was not closed after sink failure")
	}
	assert.Equal(t, 0, hub.Sessions())
}

func TestHub_OverflowTriggersResync(t *testing.T) {
	repo := seedRepo(t)
	hub := NewHub("myData", repo, nil)
	hub.buffer = 1

	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := hub.Open(ctx, "u1", sink.write)
	defer s.Close()

	require.NoError(t, s.Subscribe("1", "myData", "u1"))
	sink.take()

	// 阻塞会话，使后续事件溢出缓冲
	s.mu.Lock()
	for i := 0; i < 5; i++ {
		rec := owned(string(rune('a'+i)), "u1")
		_, err := repo.Create(context.Background(), &rec)
		require.NoError(t, err)
		hub.Publish(Change{Kind: ChangeUpserted, Record: rec})
	}
	s.mu.Unlock()

	msgs := sink.waitFor(t, 5)
	added := map[string]bool{}
	for _, m := range msgs {
		if m.Msg == MsgAdded {
			added[m.ID] = true
		}
	}
	assert.Len(t, added, 5)
}
