// Package publication decides which records a live channel may see and keeps
// subscribed channels in sync as records change.
package publication

import "filecollection/internal/repository"

// Query 描述一个订阅当前可见的记录集合。
type Query struct {
	owner string
	empty bool
}

// Resolve 根据订阅声明的身份与连接当前的认证身份构造查询。
//
// 两者不一致时返回空查询而非错误：身份切换后订阅会以旧身份重算一次，
// 在客户端用新身份重新订阅之前，它不应看到任何记录。
func Resolve(claimed, authenticated string) Query {
	if claimed != authenticated {
		return Query{empty: true}
	}
	return Query{owner: authenticated}
}

// Empty 表示该查询不匹配任何记录。
func (q Query) Empty() bool {
	return q.empty
}

// Owner 返回查询限定的拥有者。
func (q Query) Owner() string {
	return q.owner
}

// Matches 在内存中判断记录是否属于查询结果。
func (q Query) Matches(rec *repository.FileRecord) bool {
	if q.empty || rec == nil {
		return false
	}
	return !rec.IsPartial() && rec.Metadata.Owner == q.owner
}

// FindParams 把查询翻译为仓库检索条件；空查询返回 false，调用方不应访问仓库。
func (q Query) FindParams() (repository.FindParams, bool) {
	if q.empty {
		return repository.FindParams{}, false
	}
	return repository.FindParams{
		Owner:          repository.OwnerPtr(q.owner),
		ExcludePartial: true,
	}, true
}
