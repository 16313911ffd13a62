// Package policy holds the allow rules of the file collection.
package policy

import "filecollection/internal/repository"

// Rules 是存储层在每次写入、读取、删除前询问的授权规则。
type Rules interface {
	CanInsert(caller string, record *repository.FileRecord) bool
	CanRemove(caller string, record *repository.FileRecord) bool
	CanRead(caller string, record *repository.FileRecord) bool
	CanWrite(caller string, record *repository.FileRecord, fields []string) bool
}

// Ownership 让创建者拥有文件，只有拥有者可以读、写、删。
type Ownership struct{}

var _ Rules = Ownership{}

// CanInsert 总是放行，并把 owner 强制改写为调用者，覆盖客户端提交的任何值。
func (Ownership) CanInsert(caller string, record *repository.FileRecord) bool {
	if record == nil {
		return false
	}
	record.Metadata.Owner = caller
	return true
}

func (Ownership) CanRemove(caller string, record *repository.FileRecord) bool {
	return owns(caller, record)
}

// CanRead 保护 HTTP GET 下载。
func (Ownership) CanRead(caller string, record *repository.FileRecord) bool {
	return owns(caller, record)
}

// CanWrite 保护 PUT 与分片 POST，fields 仅用于审计。
func (Ownership) CanWrite(caller string, record *repository.FileRecord, fields []string) bool {
	return owns(caller, record)
}

func owns(caller string, record *repository.FileRecord) bool {
	return record != nil && caller == record.Metadata.Owner
}
