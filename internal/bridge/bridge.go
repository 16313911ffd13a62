// Package bridge turns a locally selected file into a collection record and
// hands the bytes to the upload engine once the record exists.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrInsertFailed 表示记录创建失败，上传不会开始。
var ErrInsertFailed = errors.New("insert failed")

// FileAdded 是本地选中一个文件时产生的事件。
type FileAdded struct {
	UniqueIdentifier string
	FileName         string
	Type             string
	Size             int64
	Content          io.ReaderAt
}

// NewFile 是提交给集合的新记录。
type NewFile struct {
	ID          string
	Filename    string
	ContentType string
}

// Job 描述一次交给上传引擎的传输。
type Job struct {
	ID       string
	Filename string
	Size     int64
	Content  io.ReaderAt
}

// Collection 在远端创建记录。
type Collection interface {
	Insert(ctx context.Context, file NewFile) error
}

// Engine 把内容按记录 ID 传到服务端，progress 取值 0 到 1。
type Engine interface {
	Upload(ctx context.Context, job Job, progress func(float64)) error
}

// Outcome 是 OnFileAdded 的结果。Err 非空时 Done 为 nil；否则上传结束后 Done 收到一个值。
type Outcome struct {
	ID   string
	Err  error
	Done <-chan error
}

// Bridge 串联集合插入与上传引擎，并持有各上传的进度表。
type Bridge struct {
	collection Collection
	engine     Engine
	progress   *Progress
	logger     *slog.Logger
}

func New(collection Collection, engine Engine, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		collection: collection,
		engine:     engine,
		progress:   NewProgress(),
		logger:     logger,
	}
}

// Progress 返回进度表，展示层通过它查询上传进度。
func (b *Bridge) Progress() *Progress {
	return b.progress
}

// OnFileAdded 只尝试一次插入；插入成功返回后才启动上传。ctx 取消会中止上传。
func (b *Bridge) OnFileAdded(ctx context.Context, ev FileAdded) Outcome {
	id := strings.TrimSpace(ev.UniqueIdentifier)
	out := Outcome{ID: id}

	// 记录与上传必须使用同一个本地 ID，不能让服务端代为生成
	if id == "" {
		b.logger.Error("file has no identifier", "filename", ev.FileName)
		out.Err = fmt.Errorf("%w: %s: missing file identifier", ErrInsertFailed, ev.FileName)
		return out
	}

	err := b.collection.Insert(ctx, NewFile{ID: id, Filename: ev.FileName, ContentType: ev.Type})
	if err != nil {
		b.logger.Error("file record insert failed", "id", id, "filename", ev.FileName, "error", err)
		out.Err = fmt.Errorf("%w: %s: %v", ErrInsertFailed, ev.FileName, err)
		return out
	}

	done := make(chan error, 1)
	out.Done = done

	job := Job{ID: id, Filename: ev.FileName, Size: ev.Size, Content: ev.Content}
	go func() {
		defer close(done)
		err := b.engine.Upload(ctx, job, func(fraction float64) {
			b.progress.Set(id, fraction)
		})
		b.progress.Delete(id)
		if err != nil {
			b.logger.Warn("upload failed", "id", id, "error", err)
		}
		done <- err
	}()

	return out
}
