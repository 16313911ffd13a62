package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"filecollection/internal/repository"
	"filecollection/internal/resumable"
	"filecollection/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkInputs(id string, payload []byte, chunkSize int64) []ChunkInput {
	total := resumable.ExpectedChunks(int64(len(payload)), chunkSize)
	out := make([]ChunkInput, total)
	for i := range out {
		n := i + 1
		out[i] = ChunkInput{
			FileID:           id,
			Filename:         id + ".bin",
			Number:           n,
			TotalChunks:      total,
			ChunkSize:        chunkSize,
			CurrentChunkSize: resumable.ExpectedChunkSize(n, int64(len(payload)), chunkSize),
			TotalSize:        int64(len(payload)),
		}
	}
	return out
}

func chunkBody(payload []byte, in ChunkInput) io.Reader {
	start := int64(in.Number-1) * in.ChunkSize
	return bytes.NewReader(payload[start : start+in.CurrentChunkSize])
}

func TestFileService_WriteChunk_AssemblesOutOfOrder(t *testing.T) {
	svc, repo, store, pub := newTestService(t)
	ctx := context.Background()
	payload := []byte("0123456789abcdefghij!")

	_, err := svc.Insert(ctx, "u1", InsertFileInput{ID: "f1", Filename: "f1.bin"})
	require.NoError(t, err)

	inputs := chunkInputs("f1", payload, 5)
	require.Len(t, inputs, 4)
	order := []int{2, 0, 3, 1}

	var last *ChunkResult
	for i, idx := range order {
		in := inputs[idx]

		has, err := svc.HasChunk(ctx, "u1", in)
		require.NoError(t, err)
		assert.False(t, has)

		last, err = svc.WriteChunk(ctx, "u1", in, chunkBody(payload, in))
		require.NoError(t, err)
		assert.Equal(t, i+1, last.Received)

		has, err = svc.HasChunk(ctx, "u1", in)
		require.NoError(t, err)
		assert.True(t, has)
	}

	require.True(t, last.Complete)
	assert.Equal(t, md5Hex(payload), last.Record.MD5)
	assert.Equal(t, int64(len(payload)), last.Record.Length)
	assert.Equal(t, int64(5), last.Record.ChunkSize)

	leftovers, err := repo.Find(ctx, repository.FindParams{PartialOf: "f1"})
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	assert.Equal(t, []string{storage.FileKey("f1")}, store.keys())

	_, body, err := svc.Open(ctx, "u1", md5Hex(payload))
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	kinds := pub.kinds()
	assert.Equal(t, "upserted:f1", kinds[len(kinds)-1])
}

func TestFileService_WriteChunk_RepeatAfterCompleteIsNoop(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	payload := []byte("abc")

	_, err := svc.Insert(ctx, "u1", InsertFileInput{ID: "f1", Filename: "f1.bin"})
	require.NoError(t, err)

	in := chunkInputs("f1", payload, 16)[0]
	res, err := svc.WriteChunk(ctx, "u1", in, chunkBody(payload, in))
	require.NoError(t, err)
	require.True(t, res.Complete)

	res, err = svc.WriteChunk(ctx, "u1", in, chunkBody(payload, in))
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, md5Hex(payload), res.Record.MD5)

	has, err := svc.HasChunk(ctx, "u1", in)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFileService_WriteChunk_Validation(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Insert(ctx, "u1", InsertFileInput{ID: "f1", Filename: "f1.bin"})
	require.NoError(t, err)

	base := ChunkInput{FileID: "f1", Number: 1, TotalChunks: 2, ChunkSize: 4, TotalSize: 10}

	wrongTotal := base
	wrongTotal.TotalChunks = 3
	_, err = svc.WriteChunk(ctx, "u1", wrongTotal, bytes.NewReader([]byte("abcd")))
	assert.ErrorIs(t, err, ErrInvalidInput)

	outOfRange := base
	outOfRange.Number = 3
	_, err = svc.WriteChunk(ctx, "u1", outOfRange, bytes.NewReader([]byte("abcd")))
	assert.ErrorIs(t, err, ErrInvalidInput)

	tooBig := base
	tooBig.TotalSize = 4096
	tooBig.TotalChunks = resumable.ExpectedChunks(4096, 4)
	_, err = svc.WriteChunk(ctx, "u1", tooBig, bytes.NewReader([]byte("abcd")))
	assert.ErrorIs(t, err, ErrTooLarge)

	// 实际字节数与声明不符
	_, err = svc.WriteChunk(ctx, "u1", base, bytes.NewReader([]byte("abc")))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, store.keys())

	_, err = svc.WriteChunk(ctx, "u2", base, bytes.NewReader([]byte("abcd")))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFileService_WriteChunk_ConcurrentUploadsAssembleOnce(t *testing.T) {
	svc, _, _, pub := newTestService(t)
	ctx := context.Background()
	payload := bytes.Repeat([]byte("xyz"), 100)

	_, err := svc.Insert(ctx, "u1", InsertFileInput{ID: "f1", Filename: "f1.bin"})
	require.NoError(t, err)

	inputs := chunkInputs("f1", payload, 32)
	var wg sync.WaitGroup
	errs := make(chan error, len(inputs))
	for _, in := range inputs {
		wg.Add(1)
		go func(in ChunkInput) {
			defer wg.Done()
			_, err := svc.WriteChunk(ctx, "u1", in, chunkBody(payload, in))
			errs <- err
		}(in)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	in := inputs[0]
	res, err := svc.WriteChunk(ctx, "u1", in, chunkBody(payload, in))
	require.NoError(t, err)
	require.True(t, res.Complete)
	assert.Equal(t, md5Hex(payload), res.Record.MD5)

	finals := 0
	pub.mu.Lock()
	for _, c := range pub.changes {
		if c.Record.ID == "f1" && c.Record.MD5 != "" {
			finals++
		}
	}
	pub.mu.Unlock()
	assert.Equal(t, 1, finals)
}

func TestFileService_Remove_DropsPendingChunks(t *testing.T) {
	svc, repo, store, _ := newTestService(t)
	ctx := context.Background()
	payload := []byte("abcdefgh")

	_, err := svc.Insert(ctx, "u1", InsertFileInput{ID: "f1", Filename: "f1.bin"})
	require.NoError(t, err)
	in := chunkInputs("f1", payload, 4)[0]
	_, err = svc.WriteChunk(ctx, "u1", in, chunkBody(payload, in))
	require.NoError(t, err)
	require.NotEmpty(t, store.keys())

	require.NoError(t, svc.Remove(ctx, "u1", "f1"))
	assert.Empty(t, store.keys())

	all, err := repo.Find(ctx, repository.FindParams{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileService_WriteChunk_ShortResendKeepsStoredChunk(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()
	payload := []byte("abcdefgh")

	_, err := svc.Insert(ctx, "u1", InsertFileInput{ID: "f1", Filename: "f1.bin"})
	require.NoError(t, err)
	inputs := chunkInputs("f1", payload, 4)
	require.Len(t, inputs, 2)

	_, err = svc.WriteChunk(ctx, "u1", inputs[0], chunkBody(payload, inputs[0]))
	require.NoError(t, err)
	stored := store.keys()
	require.Len(t, stored, 1)

	// 截断的重传被拒绝，之前登记的分片对象保持不变
	_, err = svc.WriteChunk(ctx, "u1", inputs[0], bytes.NewReader([]byte("ab")))
	assert.ErrorIs(t, err, ErrInvalidChunk)
	assert.Equal(t, stored, store.keys())

	has, err := svc.HasChunk(ctx, "u1", inputs[0])
	require.NoError(t, err)
	assert.True(t, has)

	// 完整的重传也不会留下多余对象
	_, err = svc.WriteChunk(ctx, "u1", inputs[0], chunkBody(payload, inputs[0]))
	require.NoError(t, err)
	assert.Equal(t, stored, store.keys())

	res, err := svc.WriteChunk(ctx, "u1", inputs[1], chunkBody(payload, inputs[1]))
	require.NoError(t, err)
	require.True(t, res.Complete)
	assert.Equal(t, md5Hex(payload), res.Record.MD5)

	_, body, err := svc.Open(ctx, "u1", md5Hex(payload))
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFileService_WriteChunk_EmptyFile(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Insert(ctx, "u1", InsertFileInput{ID: "empty", Filename: "empty.txt"})
	require.NoError(t, err)

	inputs := chunkInputs("empty", nil, 1024)
	require.Len(t, inputs, 1)
	assert.Equal(t, int64(0), inputs[0].CurrentChunkSize)

	res, err := svc.WriteChunk(ctx, "u1", inputs[0], bytes.NewReader(nil))
	require.NoError(t, err)
	require.True(t, res.Complete)
	assert.Equal(t, md5Hex(nil), res.Record.MD5)
	assert.Equal(t, int64(0), res.Record.Length)

	_, err = svc.WriteChunk(ctx, "u1", ChunkInput{FileID: "empty", Number: 1, TotalChunks: 1, ChunkSize: 1024, TotalSize: -1}, bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrInvalidChunk)
}
