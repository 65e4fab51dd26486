package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/ibraude/marktwo/backend/internal/diff"
	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/paginate"
	"github.com/ibraude/marktwo/backend/internal/remote"
	"github.com/ibraude/marktwo/backend/internal/repo"
)

var ErrForeignPage = errors.New("page id does not belong to document")

// Notifier 提交被接受后通知在线的客户端（ws.Hub 实现）
type Notifier interface {
	NotifyCommitted(docID string, meta entity.DocumentMetadata)
}

// SyncService 远端存储：页面的创建/读取，元数据的按 revision 提交。
// 它本身实现 remote.Remote，既可以挂在 HTTP 接口后面，也可以进程内直接使用。
type SyncService struct {
	pages    repo.PageRepo
	metas    repo.MetadataRepo
	events   EventSink
	notifier Notifier

	// 事件入队最多等待的时间，超时放弃（事件不要求强一致）
	enqueueTimeout time.Duration
	now            func() time.Time
}

var _ remote.Remote = (*SyncService)(nil)

type Option func(*SyncService)

func WithEvents(sink EventSink) Option { return func(s *SyncService) { s.events = sink } }

func WithNotifier(n Notifier) Option { return func(s *SyncService) { s.notifier = n } }

func WithClock(now func() time.Time) Option { return func(s *SyncService) { s.now = now } }

func NewSyncService(pages repo.PageRepo, metas repo.MetadataRepo, opts ...Option) *SyncService {
	s := &SyncService{
		pages:          pages,
		metas:          metas,
		enqueueTimeout: 200 * time.Millisecond,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SyncService) FetchMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error) {
	return s.metas.GetMetadata(ctx, docID)
}

func (s *SyncService) FetchPage(ctx context.Context, pageID string) (entity.Page, error) {
	return s.pages.GetPage(ctx, pageID)
}

// CreatePage 校验内容 hash 与页面 ID 一致后写入；不一致返回 ErrHashMismatch
func (s *SyncService) CreatePage(ctx context.Context, pageID string, page entity.Page) error {
	if err := paginate.Verify(pageID, page); err != nil {
		return err
	}
	docID, _ := paginate.DocumentIDOf(pageID)
	return s.pages.CreatePage(ctx, docID, pageID, page)
}

func (s *SyncService) InitializeData(ctx context.Context, docID string, defaults entity.DocumentMetadata) (entity.DocumentMetadata, error) {
	if defaults.Validate() != nil {
		defaults = entity.DefaultMetadata()
	}
	return s.metas.InitMetadata(ctx, docID, defaults)
}

// SyncByRevision 见 remote.Remote。冲突不是错误：返回远端当前的元数据。
func (s *SyncService) SyncByRevision(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.DocumentMetadata, error) {
	meta, _, err := s.Commit(ctx, docID, meta)
	return meta, err
}

// Commit 同 SyncByRevision，额外返回本次提交是否被接受
func (s *SyncService) Commit(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.DocumentMetadata, bool, error) {
	if err := meta.Validate(); err != nil {
		return entity.DocumentMetadata{}, false, err
	}
	for _, id := range meta.PageIDs {
		if !strings.HasPrefix(id, docID+".") {
			return entity.DocumentMetadata{}, false, fmt.Errorf("%s: %w", id, ErrForeignPage)
		}
	}

	cur, err := s.metas.GetMetadata(ctx, docID)
	if errors.Is(err, entity.ErrNotFound) {
		cur, err = entity.DefaultMetadata(), nil
	}
	if err != nil {
		return entity.DocumentMetadata{}, false, err
	}
	if cur.Revision != meta.Revision {
		glog.V(1).Infof("[sync] doc=%s conflict submitted=%d current=%d", docID, meta.Revision, cur.Revision)
		return cur, false, nil
	}

	next := meta.Clone()
	if next.LastModified.IsZero() {
		next.LastModified = s.now()
	}
	next.LastModified = next.LastModified.UTC()

	stored, accepted, err := s.metas.CompareAndSwap(ctx, docID, meta.Revision, next)
	if err != nil {
		return entity.DocumentMetadata{}, false, err
	}
	if !accepted {
		// 读取与写入之间被另一个写入者抢先
		glog.V(1).Infof("[sync] doc=%s lost race at revision=%d, current=%d", docID, meta.Revision, stored.Revision)
		return stored, false, nil
	}

	created, retired := diff.Diff(cur.PageIDs, stored.PageIDs)
	glog.V(1).Infof("[sync] doc=%s accepted revision=%d pages=%d created=%d retired=%d",
		docID, stored.Revision, len(stored.PageIDs), len(created), len(retired))
	s.publish(ctx, docID, meta.Revision, stored, created, retired)
	return stored, true, nil
}

func (s *SyncService) publish(ctx context.Context, docID string, base uint64, stored entity.DocumentMetadata, created, retired []string) {
	if s.notifier != nil {
		s.notifier.NotifyCommitted(docID, stored)
	}
	if s.events == nil {
		return
	}
	evt := CommitEvent{
		EventType:    EventMetadataCommitted,
		DocID:        docID,
		Revision:     stored.Revision,
		BaseRevision: base,
		PageIDs:      stored.PageIDs,
		CreatedPages: created,
		RetiredPages: retired,
		CaretAt:      stored.CaretAt,
		CommittedAt:  s.now().UTC(),
	}
	// 不跟随请求的 ctx：请求结束后事件仍应入队
	enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.enqueueTimeout)
	defer cancel()
	if err := s.events.Enqueue(enqCtx, evt); err != nil {
		glog.Warningf("[sync] doc=%s revision=%d event dropped: %v", docID, stored.Revision, err)
	}
}
