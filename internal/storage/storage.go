package storage

import (
	"context"
	"errors"
	"io"
	"strconv"
)

// ErrObjectNotFound 表示存储中不存在该对象。
var ErrObjectNotFound = errors.New("storage: object not found")

// Writer 定义对象存储写接口，支持流式写入。
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader) (Location, error)
}

// Reader 定义对象存储读接口，支持流式读取。
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// Remover 定义对象删除接口，对象不存在时不报错。
type Remover interface {
	Delete(ctx context.Context, key string) error
}

// Storage 组合了读写删能力的完整存储接口。
type Storage interface {
	Writer
	Reader
	Remover
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path string
	URL  string
}

// ChunkKey 返回分片对象的存储键。
func ChunkKey(fileID string, number int) string {
	return "chunks/" + fileID + "/" + strconv.Itoa(number)
}

// ChunkAttemptKey 为同一分片的每次上传生成独立的键，重传不会覆盖已登记的对象。
func ChunkAttemptKey(fileID string, number int, attempt string) string {
	return ChunkKey(fileID, number) + "." + attempt
}

// FileKey 返回完整文件对象的存储键。
func FileKey(fileID string) string {
	return "files/" + fileID
}
