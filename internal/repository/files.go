package repository

import (
	"context"
	"time"
)

// ChunkRef 标记一条记录是正在上传中的分片子记录。
type ChunkRef struct {
	FileID string `json:"file_id"`
	Number int    `json:"number"`
}

// FileMetadata 承载归属信息与分片标记。
type FileMetadata struct {
	Owner        string    `json:"owner"`
	PartialChunk *ChunkRef `json:"_partialChunk,omitempty"`
}

// FileRecord 代表集合中的一条文件元数据。
type FileRecord struct {
	ID          string       `json:"id"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"contentType"`
	Length      int64        `json:"length"`
	ChunkSize   int64        `json:"chunkSize"`
	MD5         string       `json:"md5,omitempty"`
	StoragePath string       `json:"-"`
	Metadata    FileMetadata `json:"metadata"`
	UploadDate  time.Time    `json:"uploadDate"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// IsPartial 判断是否为分片子记录。
func (r *FileRecord) IsPartial() bool {
	return r != nil && r.Metadata.PartialChunk != nil
}

// FindParams 描述记录检索条件，零值字段不参与过滤。
type FindParams struct {
	Owner          *string
	MD5            string
	ExcludePartial bool
	PartialOf      string
	PartialOnly    bool
	UpdatedBefore  *time.Time
	Limit          int
	Offset         int
}

// Finalize 描述上传完成后写回的字段。
type Finalize struct {
	Length      int64
	ChunkSize   int64
	MD5         string
	StoragePath string
}

// FileRepository 统一文件元数据持久层接口。owner 字段没有任何更新入口。
type FileRepository interface {
	Create(ctx context.Context, record *FileRecord) (*FileRecord, error)
	GetByID(ctx context.Context, id string) (*FileRecord, error)
	Find(ctx context.Context, params FindParams) ([]FileRecord, error)
	Finalize(ctx context.Context, id string, fin Finalize) (*FileRecord, error)
	Delete(ctx context.Context, id string) error
}

// OwnerPtr 便于构造 FindParams.Owner。
func OwnerPtr(owner string) *string {
	return &owner
}
