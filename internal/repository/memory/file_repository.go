package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"filecollection/internal/repository"
)

// FileRepository 是进程内实现，用于开发模式与测试。
type FileRepository struct {
	mu      sync.RWMutex
	records map[string]repository.FileRecord
	now     func() time.Time
}

// NewFileRepository 返回空的内存仓库。
func NewFileRepository() *FileRepository {
	return &FileRepository{
		records: make(map[string]repository.FileRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *FileRepository) Create(ctx context.Context, record *repository.FileRecord) (*repository.FileRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("file record is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return nil, repository.ErrAlreadyExists
	}

	rec := cloneRecord(*record)
	now := r.now()
	rec.UploadDate = now
	rec.UpdatedAt = now
	r.records[rec.ID] = rec

	out := cloneRecord(rec)
	return &out, nil
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (*repository.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (r *FileRepository) Find(ctx context.Context, params repository.FindParams) ([]repository.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	result := make([]repository.FileRecord, 0)
	for _, rec := range r.records {
		if matches(rec, params) {
			result = append(result, cloneRecord(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		an, bn := partialNumber(a), partialNumber(b)
		if an != bn {
			return an < bn
		}
		if !a.UploadDate.Equal(b.UploadDate) {
			return a.UploadDate.Before(b.UploadDate)
		}
		return a.ID < b.ID
	})

	if params.Offset > 0 {
		if params.Offset >= len(result) {
			return nil, nil
		}
		result = result[params.Offset:]
	}
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

func (r *FileRepository) Finalize(ctx context.Context, id string, fin repository.Finalize) (*repository.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.Length = fin.Length
	rec.ChunkSize = fin.ChunkSize
	rec.MD5 = fin.MD5
	rec.StoragePath = fin.StoragePath
	rec.UpdatedAt = r.now()
	r.records[id] = rec

	out := cloneRecord(rec)
	return &out, nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func matches(rec repository.FileRecord, params repository.FindParams) bool {
	ref := rec.Metadata.PartialChunk
	switch {
	case params.Owner != nil && rec.Metadata.Owner != *params.Owner:
		return false
	case params.MD5 != "" && rec.MD5 != params.MD5:
		return false
	case params.ExcludePartial && ref != nil:
		return false
	case params.PartialOnly && ref == nil:
		return false
	case params.PartialOf != "" && (ref == nil || ref.FileID != params.PartialOf):
		return false
	case params.UpdatedBefore != nil && !rec.UpdatedAt.Before(*params.UpdatedBefore):
		return false
	default:
		return true
	}
}

// partialNumber 让非分片记录排在分片之前，与 NULLS FIRST 一致。
func partialNumber(rec repository.FileRecord) int {
	if rec.Metadata.PartialChunk == nil {
		return -1
	}
	return rec.Metadata.PartialChunk.Number
}

func cloneRecord(rec repository.FileRecord) repository.FileRecord {
	if rec.Metadata.PartialChunk != nil {
		ref := *rec.Metadata.PartialChunk
		rec.Metadata.PartialChunk = &ref
	}
	return rec
}
