package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/remote"
)

type Options struct {
	// 每页最多多少个 block，<=0 用 entity.DefaultPageCapacity
	PageCapacity int
	// 一个周期内并发写页面的上限，<=0 不限制
	PutLimit     int
	Clock        func() time.Time
	OnTransition TransitionFunc
}

// Engine 客户端同步引擎：每个文档一个 Session
type Engine struct {
	store  Store
	remote remote.Remote
	asm    Reassembler
	opt    Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewEngine(store Store, r remote.Remote, asm Reassembler, opt Options) *Engine {
	if opt.PageCapacity <= 0 {
		opt.PageCapacity = entity.DefaultPageCapacity
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	return &Engine{
		store:    store,
		remote:   r,
		asm:      asm,
		opt:      opt,
		sessions: make(map[string]*Session),
	}
}

// Open 打开文档：远端初始化（不存在则创建默认元数据）、组装、再立即同步一次。
// 已打开的文档直接返回同一个 Session。首次同步失败只记录日志，下一次周期会重试。
func (e *Engine) Open(ctx context.Context, docID string) (*Session, error) {
	e.mu.Lock()
	if s, ok := e.sessions[docID]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	meta, err := e.store.EnsureMetadata(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", docID, err)
	}
	doc, err := e.asm.Assemble(ctx, docID, meta)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", docID, err)
	}

	s := &Session{
		docID:    docID,
		store:    e.store,
		remote:   e.remote,
		asm:      e.asm,
		capacity: e.opt.PageCapacity,
		putLimit: e.opt.PutLimit,
		now:      e.opt.Clock,
		onTrans:  e.opt.OnTransition,
		doc:      doc,
		synced:   meta,
		state:    Idle,
	}

	e.mu.Lock()
	if existing, ok := e.sessions[docID]; ok {
		// 并发 Open 时以先注册的为准
		e.mu.Unlock()
		return existing, nil
	}
	e.sessions[docID] = s
	e.mu.Unlock()

	if _, err := s.Sync(ctx); err != nil {
		glog.Warningf("[sync] doc=%s first sync failed: %v", docID, err)
	}
	return s, nil
}

// Session 返回已打开的文档
func (e *Engine) Session(docID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[docID]
	return s, ok
}

// Close 关闭文档，之后再 Open 会重新从远端组装
func (e *Engine) Close(docID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, docID)
}

// SyncDoc 对已打开的文档执行一次同步周期，供 Scheduler 调用
func (e *Engine) SyncDoc(ctx context.Context, docID string) error {
	s, ok := e.Session(docID)
	if !ok {
		return fmt.Errorf("sync %s: %w", docID, entity.ErrNotFound)
	}
	_, err := s.Sync(ctx)
	return err
}
