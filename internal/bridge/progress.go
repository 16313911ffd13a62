package bridge

import "sync"

// Progress 记录进行中的上传进度，键为记录 ID。
type Progress struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewProgress() *Progress {
	return &Progress{values: make(map[string]float64)}
}

func (p *Progress) Set(id string, fraction float64) {
	p.mu.Lock()
	p.values[id] = fraction
	p.mu.Unlock()
}

// Lookup 返回已知的进度；上传尚未汇报过进度时 ok 为 false。
func (p *Progress) Lookup(id string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[id]
	return v, ok
}

func (p *Progress) Delete(id string) {
	p.mu.Lock()
	delete(p.values, id)
	p.mu.Unlock()
}
