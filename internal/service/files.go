package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"filecollection/internal/metrics"
	"filecollection/internal/policy"
	"filecollection/internal/publication"
	"filecollection/internal/repository"
	"filecollection/internal/storage"

	"github.com/google/uuid"
)

var (
	// ErrForbidden 覆盖"无权限"与"记录不存在"两种情况，调用方无法据此探测记录是否存在。
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput 表示请求参数不合法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict 表示同 ID 的记录已存在。
	ErrConflict = errors.New("file already exists")
	// ErrTooLarge 表示内容超过上传上限。
	ErrTooLarge = errors.New("file exceeds size limit")
)

const (
	defaultMaxUploadBytes int64 = 100 * 1024 * 1024 // 100MB
	defaultContentType          = "application/octet-stream"
)

var (
	fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)
	md5Pattern    = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// Publisher 接收写入成功后的变化事件。
type Publisher interface {
	Publish(change publication.Change)
}

// Options 为 FileService 提供可选依赖，零值字段使用默认实现。
type Options struct {
	Rules          policy.Rules
	Publisher      Publisher
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// FileService 封装文件集合的业务流程，所有入口都先经过拥有者规则。
type FileService struct {
	repo      repository.FileRepository
	store     storage.Storage
	rules     policy.Rules
	publisher Publisher
	logger    *slog.Logger
	maxUpload int64
	now       func() time.Time

	mu         sync.Mutex
	assembling map[string]struct{}
}

func NewFileService(repo repository.FileRepository, store storage.Storage, opts Options) *FileService {
	s := &FileService{
		repo:       repo,
		store:      store,
		rules:      opts.Rules,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		maxUpload:  opts.MaxUploadBytes,
		now:        func() time.Time { return time.Now().UTC() },
		assembling: make(map[string]struct{}),
	}
	if s.rules == nil {
		s.rules = policy.Ownership{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUploadBytes
	}
	return s
}

// MaxUploadBytes 返回单个文件的上限。
func (s *FileService) MaxUploadBytes() int64 {
	return s.maxUpload
}

// InsertFileInput 描述创建文件记录所需的信息。Owner 会被规则覆盖。
type InsertFileInput struct {
	ID          string
	Filename    string
	ContentType string
	Owner       string
}

// Insert 创建新的文件记录；内容随后通过 WriteContent 或分片上传写入。
func (s *FileService) Insert(ctx context.Context, caller string, input InsertFileInput) (rec *repository.FileRecord, err error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("file service not initialized")
	}
	defer func() { metrics.FileOperations.WithLabelValues("insert", metrics.Outcome(err)).Inc() }()

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateFileID(id); err != nil {
		return nil, err
	}
	filename := strings.TrimSpace(input.Filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	record := &repository.FileRecord{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Metadata:    repository.FileMetadata{Owner: input.Owner},
	}
	// 匿名调用者没有可归属的身份
	if caller == "" || !s.rules.CanInsert(caller, record) {
		return nil, s.deny(ctx, "insert", id)
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.logger.InfoContext(ctx, "file record created", "id", created.ID, "owner", created.Metadata.Owner)
	s.publish(publication.ChangeUpserted, *created)
	return created, nil
}

// Remove 删除记录、其遗留分片与已存储的内容。
func (s *FileService) Remove(ctx context.Context, caller, id string) (err error) {
	defer func() { metrics.FileOperations.WithLabelValues("remove", metrics.Outcome(err)).Inc() }()

	rec, err := s.authorize(ctx, id, "remove", func(f *repository.FileRecord) bool {
		return s.rules.CanRemove(caller, f)
	})
	if err != nil {
		return err
	}

	if err := s.dropChunks(ctx, id); err != nil {
		return err
	}
	if rec.StoragePath != "" {
		if err := s.store.Delete(ctx, rec.StoragePath); err != nil {
			return fmt.Errorf("delete content: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete record: %w", err)
	}

	s.logger.InfoContext(ctx, "file removed", "id", id, "owner", rec.Metadata.Owner)
	s.publish(publication.ChangeRemoved, *rec)
	return nil
}

// Open 按内容哈希查找调用者可读的文件并打开内容。
func (s *FileService) Open(ctx context.Context, caller, md5sum string) (*repository.FileRecord, io.ReadCloser, error) {
	md5sum = strings.ToLower(strings.TrimSpace(md5sum))
	if !md5Pattern.MatchString(md5sum) {
		return nil, nil, fmt.Errorf("%w: malformed md5", ErrInvalidInput)
	}

	candidates, err := s.repo.Find(ctx, repository.FindParams{MD5: md5sum, ExcludePartial: true})
	if err != nil {
		return nil, nil, fmt.Errorf("lookup md5: %w", err)
	}

	for i := range candidates {
		rec := &candidates[i]
		if !s.rules.CanRead(caller, rec) {
			continue
		}
		content, err := s.store.Read(ctx, rec.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("read content: %w", err)
		}
		metrics.FileOperations.WithLabelValues("read", "ok").Inc()
		return rec, content, nil
	}

	return nil, nil, s.deny(ctx, "read", md5sum)
}

// WriteContent 以整段请求体替换文件内容，并写回长度与哈希。
func (s *FileService) WriteContent(ctx context.Context, caller, id string, r io.Reader) (rec *repository.FileRecord, err error) {
	defer func() { metrics.FileOperations.WithLabelValues("write", metrics.Outcome(err)).Inc() }()

	if r == nil {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}
	if _, err := s.authorize(ctx, id, "write", func(f *repository.FileRecord) bool {
		return s.rules.CanWrite(caller, f, []string{"length", "md5"})
	}); err != nil {
		return nil, err
	}

	key := storage.FileKey(id)
	digest, err := s.writeHashed(ctx, key, r, s.maxUpload)
	if err != nil {
		return nil, err
	}

	finalized, err := s.repo.Finalize(ctx, id, repository.Finalize{
		Length:      digest.length,
		MD5:         digest.sum,
		StoragePath: key,
	})
	if err != nil {
		return nil, fmt.Errorf("finalize record: %w", err)
	}

	s.logger.InfoContext(ctx, "file content written", "id", id, "length", digest.length)
	s.publish(publication.ChangeUpserted, *finalized)
	return finalized, nil
}

// authorize 读取记录并执行规则；不存在、是分片子记录或被拒绝时统一返回 ErrForbidden。
func (s *FileService) authorize(ctx context.Context, id, rule string, allowed func(*repository.FileRecord) bool) (*repository.FileRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("file service not initialized")
	}
	if validateFileID(id) != nil {
		return nil, s.deny(ctx, rule, id)
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.deny(ctx, rule, id)
		}
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec.IsPartial() || !allowed(rec) {
		return nil, s.deny(ctx, rule, id)
	}
	return rec, nil
}

func (s *FileService) deny(ctx context.Context, rule, target string) error {
	metrics.AuthorizationDenials.WithLabelValues(rule).Inc()
	s.logger.DebugContext(ctx, "request denied", "rule", rule, "target", target)
	return ErrForbidden
}

func (s *FileService) publish(kind publication.ChangeKind, rec repository.FileRecord) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(publication.Change{Kind: kind, Record: rec})
}

type hashedWrite struct {
	length int64
	sum    string
}

// writeHashed 边写边计算长度与 md5，超过 limit 时删除已写对象。
func (s *FileService) writeHashed(ctx context.Context, key string, r io.Reader, limit int64) (hashedWrite, error) {
	hasher := md5.New()
	counter := &countingReader{r: io.TeeReader(io.LimitReader(r, limit+1), hasher)}

	if _, err := s.store.Write(ctx, key, counter); err != nil {
		return hashedWrite{}, fmt.Errorf("write storage: %w", err)
	}
	if counter.n > limit {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "discard oversized object failed", "key", key, "error", err)
		}
		return hashedWrite{}, ErrTooLarge
	}

	return hashedWrite{length: counter.n, sum: hex.EncodeToString(hasher.Sum(nil))}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func validateFileID(id string) error {
	if !fileIDPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: id must match %s", ErrInvalidInput, fileIDPattern.String())
	}
	return nil
}
