package repo

import (
	"context"
	"sync"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

// Memory 进程内实现，持有全部页面和元数据；本地开发与测试使用
type Memory struct {
	mu    sync.RWMutex
	pages map[string]entity.Page
	metas map[string]entity.DocumentMetadata
}

var (
	_ PageRepo     = (*Memory)(nil)
	_ MetadataRepo = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		pages: make(map[string]entity.Page),
		metas: make(map[string]entity.DocumentMetadata),
	}
}

func (m *Memory) GetPage(ctx context.Context, pageID string) (entity.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[pageID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return append(entity.Page(nil), page...), nil
}

func (m *Memory) CreatePage(ctx context.Context, docID, pageID string, page entity.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[pageID]; ok {
		return nil
	}
	m.pages[pageID] = append(entity.Page(nil), page...)
	return nil
}

// PageCount 远端页面总数（旧页面不会被删除）
func (m *Memory) PageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

func (m *Memory) GetMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metas[docID]
	if !ok {
		return entity.DocumentMetadata{}, entity.ErrNotFound
	}
	return meta.Clone(), nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, docID string, expected uint64, next entity.DocumentMetadata) (entity.DocumentMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.metas[docID]
	if !ok {
		cur = entity.DefaultMetadata()
	}
	if cur.Revision != expected {
		return cur.Clone(), false, nil
	}
	stored := next.Clone()
	stored.Revision = expected + 1
	m.metas[docID] = stored
	return stored.Clone(), true, nil
}

func (m *Memory) InitMetadata(ctx context.Context, docID string, defaults entity.DocumentMetadata) (entity.DocumentMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.metas[docID]; ok {
		return cur.Clone(), nil
	}
	stored := defaults.Clone()
	m.metas[docID] = stored
	return stored.Clone(), nil
}
