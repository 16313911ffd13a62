package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"filecollection/internal/bridge"
	"filecollection/internal/resumable"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize  int64 = 1024 * 1024
	defaultParallel         = 3
	defaultRetries          = 2
	defaultRetryDelay       = 500 * time.Millisecond
)

// Uploader 是 resumable.js 协议的上传引擎：并行提交分片，已存在的分片跳过，失败的分片有限重试。
type Uploader struct {
	client     *Client
	chunkSize  int64
	parallel   int
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ bridge.Engine = (*Uploader)(nil)

// UploaderOption 调整 Uploader 的参数。
type UploaderOption func(*Uploader)

func WithChunkSize(n int64) UploaderOption {
	return func(u *Uploader) {
		if n > 0 {
			u.chunkSize = n
		}
	}
}

func WithParallel(n int) UploaderOption {
	return func(u *Uploader) {
		if n > 0 {
			u.parallel = n
		}
	}
}

// WithRetries 设置单个分片失败后的重试次数，0 表示不重试。
func WithRetries(n int, delay time.Duration) UploaderOption {
	return func(u *Uploader) {
		if n >= 0 {
			u.retries = n
		}
		if delay >= 0 {
			u.retryDelay = delay
		}
	}
}

func WithLogger(logger *slog.Logger) UploaderOption {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func NewUploader(c *Client, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		client:     c,
		chunkSize:  DefaultChunkSize,
		parallel:   defaultParallel,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload 把 job 的内容传到记录 job.ID 下。空文件直接整段写入。
func (u *Uploader) Upload(ctx context.Context, job bridge.Job, progress func(float64)) error {
	if progress == nil {
		progress = func(float64) {}
	}
	if job.Size < 0 {
		return fmt.Errorf("invalid size %d", job.Size)
	}
	if job.Size == 0 || job.Content == nil {
		if _, err := u.client.Put(ctx, job.ID, bytes.NewReader(nil)); err != nil {
			return fmt.Errorf("write empty file: %w", err)
		}
		progress(1)
		return nil
	}

	total := resumable.ExpectedChunks(job.Size, u.chunkSize)
	tracker := &progressTracker{total: job.Size, report: progress}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallel)
	for n := 1; n <= total; n++ {
		n := n
		g.Go(func() error {
			size, err := u.sendChunk(gctx, job, n, total)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", n, total, err)
			}
			tracker.add(size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	progress(1)
	return nil
}

func (u *Uploader) sendChunk(ctx context.Context, job bridge.Job, number, total int) (int64, error) {
	size := resumable.ExpectedChunkSize(number, job.Size, u.chunkSize)
	params := ChunkParams{
		Identifier:       job.ID,
		Filename:         job.Filename,
		Number:           number,
		TotalChunks:      total,
		ChunkSize:        u.chunkSize,
		CurrentChunkSize: size,
		TotalSize:        job.Size,
	}

	exists, err := u.client.HasChunk(ctx, params)
	if err != nil {
		return 0, err
	}
	if exists {
		return size, nil
	}

	data := make([]byte, size)
	n, err := job.Content.ReadAt(data, resumable.ChunkOffset(number, u.chunkSize))
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == size) {
		return 0, fmt.Errorf("read local file: %w", err)
	}

	for attempt := 0; ; attempt++ {
		_, err = u.client.UploadChunk(ctx, params, data)
		if err == nil {
			return size, nil
		}
		if attempt >= u.retries || !retryable(err) {
			return 0, err
		}
		u.logger.Debug("retrying chunk", "id", job.ID, "chunk", number, "attempt", attempt+1, "error", err)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(u.retryDelay * time.Duration(attempt+1)):
		}
	}
}

// retryable 判断分片错误是否值得重试：网络错误与 5xx、429 重试，其余 4xx 不重试。
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	return true
}

type progressTracker struct {
	mu     sync.Mutex
	total  int64
	sent   int64
	report func(float64)
}

func (p *progressTracker) add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent += n
	p.report(float64(p.sent) / float64(p.total))
}
