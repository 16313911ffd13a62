package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"filecollection/internal/storage"
)

// Store 将对象写入本地文件系统。
type Store struct {
	BaseDir string
	BaseURL string
}

func New(baseDir, baseURL string) *Store {
	return &Store{BaseDir: baseDir, BaseURL: baseURL}
}

func (s *Store) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local store uninitialized")
	}

	select {
	case <-ctx.Done():
		return storage.Location{}, ctx.Err()
	default:
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return storage.Location{}, err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	file, err := os.CreateTemp(filepath.Dir(targetPath), filepath.Base(targetPath)+".*.tmp")
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := file.Name()
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}

	loc := storage.Location{Path: key}
	if s.BaseURL != "" {
		u, err := url.JoinPath(s.BaseURL, filepath.ToSlash(key))
		if err == nil {
			loc.URL = u
		}
	}

	return loc, nil
}

// Read 打开并返回指定 key 对应的文件内容。
func (s *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("local store uninitialized")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return file, nil
}

// Delete 删除对象，不存在时视为成功。
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("local store uninitialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(targetPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}

	// 分片目录清空后顺手删掉，非空时 Remove 会失败，忽略即可
	dir := filepath.Dir(targetPath)
	if dir != filepath.Clean(s.BaseDir) {
		_ = os.Remove(dir)
	}
	return nil
}

// resolve 把 key 映射到 BaseDir 之下，拒绝越界路径。
func (s *Store) resolve(key string) (string, error) {
	base := filepath.Clean(s.BaseDir)
	target := filepath.Join(base, filepath.FromSlash(key))
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return target, nil
}
