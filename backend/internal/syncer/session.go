package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/diff"
	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/paginate"
	"github.com/ibraude/marktwo/backend/internal/remote"
)

// Store 同步周期用到的本地存储操作（pagestore.PageStore 实现）
type Store interface {
	PutPage(ctx context.Context, pageID string, page entity.Page, isNew bool) error
	Evict(ctx context.Context, pageID string) error
	LoadMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error)
	SaveMetadata(ctx context.Context, docID string, meta entity.DocumentMetadata) error
	EnsureMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error)
}

// Reassembler 根据元数据重建文档（assemble.Assembler 实现）
type Reassembler interface {
	Assemble(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.Document, error)
}

// TransitionFunc 状态迁移回调，在持有周期锁的 goroutine 上同步调用
type TransitionFunc func(docID string, from, to State)

// Session 一个打开的文档：内存中的 block 列表和最近一次同步得到的元数据。
// 同一文档的同步周期由 cycle 串行化；mu 保护 doc / synced / state。
type Session struct {
	docID    string
	store    Store
	remote   remote.Remote
	asm      Reassembler
	capacity int
	putLimit int
	now      func() time.Time
	onTrans  TransitionFunc

	cycle sync.Mutex

	mu     sync.Mutex
	doc    entity.Document
	synced entity.DocumentMetadata
	state  State
}

func (s *Session) DocID() string { return s.docID }

// Document 当前显示的文档（副本）
func (s *Session) Document() entity.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Synced 最近一次同步确认的元数据（副本）
func (s *Session) Synced() entity.DocumentMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced.Clone()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Edit 用编辑器给出的 block 列表替换当前文档；光标所在 block 被删掉时清空光标。
// 非法 UTF-8 在这里换成 U+FFFD
func (s *Session) Edit(blocks []entity.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Blocks = append([]entity.Block(nil), entity.ValidBlocks(blocks)...)
	if s.doc.CaretAt != "" && !s.doc.HasBlock(s.doc.CaretAt) {
		s.doc.CaretAt = ""
	}
}

// SetCaret 记录光标所在 block，随下一次提交写入元数据
func (s *Session) SetCaret(blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blockID != "" && !s.doc.HasBlock(blockID) {
		return fmt.Errorf("caret %s: %w", blockID, entity.ErrNotFound)
	}
	s.doc.CaretAt = blockID
	return nil
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		panic(fmt.Sprintf("syncer: illegal transition %s -> %s", from, to))
	}
	s.state = to
	s.mu.Unlock()
	glog.V(3).Infof("[sync] doc=%s %s -> %s", s.docID, from, to)
	if s.onTrans != nil {
		s.onTrans(s.docID, from, to)
	}
}

// Sync 执行一次完整的同步周期：分页、diff、写页面、按 revision 提交、冲突时重建。
// 任一步骤失败都返回错误，显示的文档和已同步元数据保持不变，由下一次周期重试。
func (s *Session) Sync(ctx context.Context) (out Outcome, err error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	defer func() {
		if err != nil {
			s.setState(Idle)
			glog.Warningf("[sync] doc=%s cycle failed: %v", s.docID, err)
		}
	}()

	s.mu.Lock()
	doc := s.doc.Clone()
	fallback := s.synced.Clone()
	s.mu.Unlock()

	// Diffing
	s.setState(Diffing)
	pages, pageIDs := paginate.Paginate(doc.Blocks, s.docID, s.capacity)

	prev, err := s.store.LoadMetadata(ctx, s.docID)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) && !errors.Is(err, entity.ErrMalformedMetadata) {
			return Outcome{}, fmt.Errorf("load metadata: %w", err)
		}
		// 本地没有（或损坏）则以内存中最近一次同步的结果为基准
		prev = fallback
	}
	toCreate, toEvict := diff.Diff(prev.PageIDs, pageIDs)

	isNew := lo.SliceToMap(toCreate, func(id string) (string, struct{}) { return id, struct{}{} })
	g, gctx := errgroup.WithContext(ctx)
	if s.putLimit > 0 {
		g.SetLimit(s.putLimit)
	}
	for id, page := range pages {
		_, created := isNew[id]
		g.Go(func() error {
			return s.store.PutPage(gctx, id, page, created)
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, fmt.Errorf("put pages: %w", err)
	}
	for _, id := range toEvict {
		if err := s.store.Evict(ctx, id); err != nil {
			return Outcome{}, fmt.Errorf("evict %s: %w", id, err)
		}
	}

	// Committing
	s.setState(Committing)
	next := prev.Clone()
	next.PageIDs = pageIDs
	next.CaretAt = doc.CaretAt
	next.LastModified = s.now().UTC()

	auth, err := s.remote.SyncByRevision(ctx, s.docID, next)
	if err != nil {
		return Outcome{}, fmt.Errorf("commit rev=%d: %w", next.Revision, err)
	}
	if err := auth.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("commit rev=%d: %w", next.Revision, err)
	}

	out = Outcome{Metadata: auth, Created: toCreate, Evicted: toEvict}

	if auth.SamePages(next) {
		s.setState(Accepted)
		if err := s.store.SaveMetadata(ctx, s.docID, auth); err != nil {
			return Outcome{}, fmt.Errorf("save metadata: %w", err)
		}
		s.mu.Lock()
		s.synced = auth.Clone()
		s.mu.Unlock()
		s.setState(Idle)
		out.Result = Accepted
		glog.V(1).Infof("[sync] doc=%s accepted rev=%d pages=%d created=%d evicted=%d",
			s.docID, auth.Revision, len(pageIDs), len(toCreate), len(toEvict))
		return out, nil
	}

	// 远端已被其他写者推进：整体采用远端版本
	s.setState(Conflicted)
	glog.Infof("[sync] doc=%s conflict: submitted rev=%d, remote rev=%d, reassembling", s.docID, next.Revision, auth.Revision)
	s.setState(Reassembling)
	rebuilt, err := s.asm.Assemble(ctx, s.docID, auth)
	if err != nil {
		return Outcome{}, fmt.Errorf("reassemble rev=%d: %w", auth.Revision, err)
	}
	// 重建失败时不保存远端元数据
	if err := s.store.SaveMetadata(ctx, s.docID, auth); err != nil {
		return Outcome{}, fmt.Errorf("save metadata: %w", err)
	}
	s.mu.Lock()
	s.doc = rebuilt
	s.synced = auth.Clone()
	s.mu.Unlock()

	// 被拒绝的提交里写入本地的页面不再被任何元数据引用，之后的 diff 也看不到它们
	rejected := lo.Without(lo.Uniq(pageIDs), auth.PageIDs...)
	for _, id := range rejected {
		if err := s.store.Evict(ctx, id); err != nil {
			glog.Warningf("[sync] doc=%s evict rejected page %s: %v", s.docID, id, err)
			continue
		}
		out.Evicted = append(out.Evicted, id)
	}

	s.setState(Idle)
	out.Result = Conflicted
	return out, nil
}
