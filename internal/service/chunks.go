package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"filecollection/internal/metrics"
	"filecollection/internal/publication"
	"filecollection/internal/repository"
	"filecollection/internal/resumable"
	"filecollection/internal/storage"

	"github.com/google/uuid"
)

// ErrInvalidChunk 表示分片参数或内容与声明不符。
var ErrInvalidChunk = fmt.Errorf("%w: chunk rejected", ErrInvalidInput)

// ChunkInput 对应 resumable.js 随每个分片提交的参数。
type ChunkInput struct {
	FileID           string
	Filename         string
	Number           int
	TotalChunks      int
	ChunkSize        int64
	CurrentChunkSize int64
	TotalSize        int64
}

// ChunkResult 描述一次分片写入后的上传状态。
type ChunkResult struct {
	Record   *repository.FileRecord
	Received int
	Total    int
	Complete bool
}

func (in ChunkInput) validate(maxUpload int64) error {
	if err := validateFileID(in.FileID); err != nil {
		return err
	}
	switch {
	case in.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidChunk)
	case in.TotalSize < 0:
		return fmt.Errorf("%w: total size must not be negative", ErrInvalidChunk)
	case in.TotalSize > maxUpload:
		return ErrTooLarge
	}

	total := resumable.ExpectedChunks(in.TotalSize, in.ChunkSize)
	if in.TotalChunks != total {
		return fmt.Errorf("%w: expected %d chunks, got %d", ErrInvalidChunk, total, in.TotalChunks)
	}
	if in.Number < 1 || in.Number > total {
		return fmt.Errorf("%w: chunk number %d out of range", ErrInvalidChunk, in.Number)
	}
	if in.CurrentChunkSize != 0 && in.CurrentChunkSize != resumable.ExpectedChunkSize(in.Number, in.TotalSize, in.ChunkSize) {
		return fmt.Errorf("%w: unexpected size for chunk %d", ErrInvalidChunk, in.Number)
	}
	return nil
}

func chunkRecordID(fileID string, number int) string {
	return fileID + ":chunk:" + strconv.Itoa(number)
}

// HasChunk 实现 resumable.js 的 testChunks：分片已存在或文件已完成时返回 true。
func (s *FileService) HasChunk(ctx context.Context, caller string, in ChunkInput) (bool, error) {
	if err := in.validate(s.maxUpload); err != nil {
		return false, err
	}
	parent, err := s.authorize(ctx, in.FileID, "write", func(f *repository.FileRecord) bool {
		return s.rules.CanWrite(caller, f, []string{"chunks"})
	})
	if err != nil {
		return false, err
	}
	if parent.MD5 != "" {
		return true, nil
	}

	_, err = s.repo.GetByID(ctx, chunkRecordID(in.FileID, in.Number))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("load chunk: %w", err)
	}
}

// WriteChunk 存储一个分片并登记为分片子记录；最后一片到达时拼接出完整文件。
func (s *FileService) WriteChunk(ctx context.Context, caller string, in ChunkInput, r io.Reader) (result *ChunkResult, err error) {
	defer func() { metrics.FileOperations.WithLabelValues("chunk", metrics.Outcome(err)).Inc() }()

	if r == nil {
		return nil, fmt.Errorf("%w: chunk body is required", ErrInvalidChunk)
	}
	if err := in.validate(s.maxUpload); err != nil {
		return nil, err
	}
	parent, err := s.authorize(ctx, in.FileID, "write", func(f *repository.FileRecord) bool {
		return s.rules.CanWrite(caller, f, []string{"chunks"})
	})
	if err != nil {
		return nil, err
	}
	if parent.MD5 != "" {
		return &ChunkResult{Record: parent, Received: in.TotalChunks, Total: in.TotalChunks, Complete: true}, nil
	}

	expected := resumable.ExpectedChunkSize(in.Number, in.TotalSize, in.ChunkSize)
	key := storage.ChunkAttemptKey(in.FileID, in.Number, uuid.NewString())
	counter := &countingReader{r: io.LimitReader(r, expected+1)}
	if _, err := s.store.Write(ctx, key, counter); err != nil {
		return nil, fmt.Errorf("write chunk: %w", err)
	}
	if counter.n != expected {
		// 只删除本次写入的对象，已登记的分片不受影响
		_ = s.store.Delete(ctx, key)
		return nil, fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrInvalidChunk, in.Number, counter.n, expected)
	}
	metrics.ChunkBytes.Add(float64(counter.n))

	chunk := &repository.FileRecord{
		ID:          chunkRecordID(in.FileID, in.Number),
		Filename:    parent.Filename,
		ContentType: parent.ContentType,
		Length:      counter.n,
		ChunkSize:   in.ChunkSize,
		StoragePath: key,
		Metadata: repository.FileMetadata{
			Owner:        parent.Metadata.Owner,
			PartialChunk: &repository.ChunkRef{FileID: in.FileID, Number: in.Number},
		},
	}
	created, err := s.repo.Create(ctx, chunk)
	switch {
	case err == nil:
		s.publish(publication.ChangeUpserted, *created)
	case errors.Is(err, repository.ErrAlreadyExists):
		// 分片已登记，保留原对象，丢弃重传的副本
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "discard duplicate chunk failed", "key", key, "error", err)
		}
	default:
		_ = s.store.Delete(ctx, key)
		return nil, fmt.Errorf("record chunk: %w", err)
	}

	chunks, err := s.repo.Find(ctx, repository.FindParams{PartialOf: in.FileID})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	result = &ChunkResult{Record: parent, Received: len(chunks), Total: in.TotalChunks}
	if len(chunks) < in.TotalChunks {
		return result, nil
	}

	assembled, err := s.assemble(ctx, in.FileID, in.TotalChunks, in.ChunkSize)
	if err != nil {
		return nil, err
	}
	if assembled != nil {
		result.Record = assembled
		result.Complete = true
		result.Received = in.TotalChunks
	}
	return result, nil
}

// assemble 按序拼接全部分片；另一请求正在拼接同一文件时返回 nil。
func (s *FileService) assemble(ctx context.Context, fileID string, total int, chunkSize int64) (*repository.FileRecord, error) {
	if !s.tryLock(fileID) {
		return nil, nil
	}
	defer s.unlock(fileID)

	// 持锁后重新读取，前一个拼接者可能刚刚完成
	parent, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("reload record: %w", err)
	}
	if parent.MD5 != "" {
		return parent, nil
	}

	chunks, err := s.repo.Find(ctx, repository.FindParams{PartialOf: fileID})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Metadata.PartialChunk.Number < chunks[j].Metadata.PartialChunk.Number
	})
	if len(chunks) != total {
		return nil, nil
	}
	keys := make([]string, total)
	for i, c := range chunks {
		if c.Metadata.PartialChunk.Number != i+1 {
			return nil, fmt.Errorf("%w: chunk %d missing", ErrInvalidChunk, i+1)
		}
		keys[i] = c.StoragePath
	}

	key := storage.FileKey(fileID)
	hasher := md5.New()
	src := &countingReader{r: io.TeeReader(&chunkReader{ctx: ctx, store: s.store, keys: keys}, hasher)}
	if _, err := s.store.Write(ctx, key, src); err != nil {
		return nil, fmt.Errorf("write assembled file: %w", err)
	}

	finalized, err := s.repo.Finalize(ctx, fileID, repository.Finalize{
		Length:      src.n,
		ChunkSize:   chunkSize,
		MD5:         hex.EncodeToString(hasher.Sum(nil)),
		StoragePath: key,
	})
	if err != nil {
		return nil, fmt.Errorf("finalize record: %w", err)
	}

	for _, c := range chunks {
		if err := s.discardChunk(ctx, c); err != nil {
			s.logger.WarnContext(ctx, "discard chunk failed", "id", c.ID, "error", err)
		}
	}

	metrics.AssembledFiles.Inc()
	s.logger.InfoContext(ctx, "file assembled", "id", fileID, "chunks", total, "length", finalized.Length)
	s.publish(publication.ChangeUpserted, *finalized)
	return finalized, nil
}

// CleanupStalePartials 删除超过 ttl 未更新的分片子记录及其对象。
func (s *FileService) CleanupStalePartials(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)
	stale, err := s.repo.Find(ctx, repository.FindParams{PartialOnly: true, UpdatedBefore: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("list stale chunks: %w", err)
	}

	removed := 0
	for _, c := range stale {
		if err := s.discardChunk(ctx, c); err != nil {
			s.logger.WarnContext(ctx, "discard stale chunk failed", "id", c.ID, "error", err)
			continue
		}
		removed++
	}
	metrics.StaleChunksRemoved.Add(float64(removed))
	return removed, nil
}

// StartCleanup 启动后台清理任务，ctx 取消后退出。
func (s *FileService) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	s.logger.Info("starting chunk cleanup worker", "interval", interval, "ttl", ttl)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n, err := s.CleanupStalePartials(ctx, ttl)
				if err != nil {
					s.logger.Error("scheduled chunk cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Info("stale chunks removed", "count", n)
				}
			case <-ctx.Done():
				s.logger.Info("chunk cleanup stopped", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (s *FileService) dropChunks(ctx context.Context, fileID string) error {
	chunks, err := s.repo.Find(ctx, repository.FindParams{PartialOf: fileID})
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	for _, c := range chunks {
		if err := s.discardChunk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileService) discardChunk(ctx context.Context, c repository.FileRecord) error {
	if c.StoragePath != "" {
		if err := s.store.Delete(ctx, c.StoragePath); err != nil {
			return fmt.Errorf("delete chunk object: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, c.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete chunk record: %w", err)
	}
	return nil
}

func (s *FileService) tryLock(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.assembling[fileID]; busy {
		return false
	}
	s.assembling[fileID] = struct{}{}
	return true
}

func (s *FileService) unlock(fileID string) {
	s.mu.Lock()
	delete(s.assembling, fileID)
	s.mu.Unlock()
}

// chunkReader 依次打开各分片对象，对外表现为一个连续的流。
type chunkReader struct {
	ctx   context.Context
	store storage.Reader
	keys  []string
	cur   io.ReadCloser
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if len(c.keys) == 0 {
				return 0, io.EOF
			}
			rc, err := c.store.Read(c.ctx, c.keys[0])
			if err != nil {
				return 0, err
			}
			c.cur = rc
			c.keys = c.keys[1:]
		}

		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			c.cur.Close()
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}
