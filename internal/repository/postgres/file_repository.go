package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"filecollection/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation 是 PostgreSQL 主键/唯一约束冲突的错误码。
const uniqueViolation = "23505"

// NewFileRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// FileRepository 实现 repository.FileRepository。
type FileRepository struct {
	db *sql.DB
}

var fileSelectColumns = []string{
	"id",
	"filename",
	"content_type",
	"length",
	"chunk_size",
	"md5",
	"storage_path",
	"owner",
	"partial_of",
	"partial_number",
	"upload_date",
	"updated_at",
}

var fileInsertColumns = []string{
	"id",
	"filename",
	"content_type",
	"length",
	"chunk_size",
	"md5",
	"storage_path",
	"owner",
	"partial_of",
	"partial_number",
}

// Create 插入文件记录并返回数据库生成字段（如时间戳）。
func (r *FileRepository) Create(ctx context.Context, record *repository.FileRecord) (*repository.FileRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("file record is nil")
	}

	placeholders := make([]string, len(fileInsertColumns))
	for i := range fileInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO files (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(fileInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(fileSelectColumns, ","),
	)

	var (
		partialOf     sql.NullString
		partialNumber sql.NullInt32
	)
	if ref := record.Metadata.PartialChunk; ref != nil {
		partialOf = sql.NullString{String: ref.FileID, Valid: true}
		partialNumber = sql.NullInt32{Int32: int32(ref.Number), Valid: true}
	}

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.Filename,
		record.ContentType,
		record.Length,
		record.ChunkSize,
		record.MD5,
		record.StoragePath,
		record.Metadata.Owner,
		partialOf,
		partialNumber,
	)

	created, err := scanFileRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrAlreadyExists
		}
		return nil, err
	}
	return created, nil
}

// GetByID 通过主键查询文件记录。
func (r *FileRepository) GetByID(ctx context.Context, id string) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, strings.Join(fileSelectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, id)
	file, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// Find 按归属、哈希、分片状态过滤并分页。
func (r *FileRepository) Find(ctx context.Context, params repository.FindParams) ([]repository.FileRecord, error) {
	var (
		args       []any
		conditions []string
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Owner != nil {
		conditions = append(conditions, "owner = "+bind(*params.Owner))
	}
	if params.MD5 != "" {
		conditions = append(conditions, "md5 = "+bind(params.MD5))
	}
	if params.ExcludePartial {
		conditions = append(conditions, "partial_of IS NULL")
	}
	if params.PartialOnly {
		conditions = append(conditions, "partial_of IS NOT NULL")
	}
	if params.PartialOf != "" {
		conditions = append(conditions, "partial_of = "+bind(params.PartialOf))
	}
	if params.UpdatedBefore != nil {
		conditions = append(conditions, "updated_at < "+bind(*params.UpdatedBefore))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// 分片按序号排列，便于按顺序拼接
	tail := "ORDER BY partial_number ASC NULLS FIRST, upload_date ASC, id ASC"
	if params.Limit > 0 {
		tail += " LIMIT " + bind(params.Limit)
	}
	if params.Offset > 0 {
		tail += " OFFSET " + bind(params.Offset)
	}

	query := fmt.Sprintf(`SELECT %s FROM files %s %s`, strings.Join(fileSelectColumns, ","), whereClause, tail)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Finalize 写入上传完成后的长度、哈希与存储位置。
func (r *FileRepository) Finalize(ctx context.Context, id string, fin repository.Finalize) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`UPDATE files
	SET length = $1, chunk_size = $2, md5 = $3, storage_path = $4, updated_at = $5
	WHERE id = $6
	RETURNING %s`, strings.Join(fileSelectColumns, ","))

	row := r.db.QueryRowContext(ctx, query,
		fin.Length, fin.ChunkSize, fin.MD5, fin.StoragePath, time.Now().UTC(), id)
	rec, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Delete 物理删除一条记录。
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(rs rowScanner) (*repository.FileRecord, error) {
	var (
		rec           repository.FileRecord
		partialOf     sql.NullString
		partialNumber sql.NullInt32
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.Filename,
		&rec.ContentType,
		&rec.Length,
		&rec.ChunkSize,
		&rec.MD5,
		&rec.StoragePath,
		&rec.Metadata.Owner,
		&partialOf,
		&partialNumber,
		&rec.UploadDate,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if partialOf.Valid {
		rec.Metadata.PartialChunk = &repository.ChunkRef{
			FileID: partialOf.String,
			Number: int(partialNumber.Int32),
		}
	}

	return &rec, nil
}
