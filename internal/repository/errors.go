package repository

import "errors"

var (
	// ErrNotFound 表示目标记录不存在。
	ErrNotFound = errors.New("repository: record not found")
	// ErrAlreadyExists 表示主键冲突。
	ErrAlreadyExists = errors.New("repository: record already exists")
)
