package pagestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/paginate"
	"github.com/ibraude/marktwo/backend/internal/remote"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PageStore 页面与文档元数据的本地缓存，未命中时回源到远端（cache-through）。
// 本地缓存只在远端读取/创建确认成功后才写入，单个 key 失败不会影响已缓存的其他 key。
type PageStore struct {
	kv     cache.KV
	remote remote.Remote
	sf     singleflight.Group
	// GetPages 的最大并发回源数，<=0 表示不限制
	fetchLimit int
}

func New(kv cache.KV, r remote.Remote, fetchLimit int) *PageStore {
	return &PageStore{kv: kv, remote: r, fetchLimit: fetchLimit}
}

// GetPage 本地命中直接返回；未命中则回源、校验 hash、写入本地。
// 同一 key 的并发回源由 singleflight 合并为一次。
func (s *PageStore) GetPage(ctx context.Context, pageID string) (entity.Page, error) {
	if page, ok, err := s.readLocal(ctx, pageID); err != nil {
		return nil, err
	} else if ok {
		return page, nil
	}

	v, err, shared := s.sf.Do(pageID, func() (interface{}, error) {
		// 合并窗口内可能已被其他调用写入
		if page, ok, err := s.readLocal(ctx, pageID); err != nil {
			return nil, err
		} else if ok {
			return page, nil
		}

		page, err := s.remote.FetchPage(ctx, pageID)
		if err != nil {
			var fe *entity.FetchError
			if !errors.As(err, &fe) {
				err = &entity.FetchError{Key: pageID, Op: "fetch", Err: err}
			}
			return nil, err
		}
		// 内容与 ID 不一致：这一页视为损坏，绝不写入本地
		if err := paginate.Verify(pageID, page); err != nil {
			return nil, err
		}
		if err := s.writeLocal(ctx, cache.PageKey(pageID), page); err != nil {
			return nil, err
		}
		glog.V(2).Infof("[pagestore] fetched page=%s blocks=%d", pageID, len(page))
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	page, ok := v.(entity.Page)
	if !ok {
		return nil, errors.New("internal type error")
	}
	if shared {
		// 多个调用方拿到同一个切片，各自复制一份
		page = append(entity.Page(nil), page...)
	}
	return page, nil
}

// GetPages 并行获取全部页面，结果按 pageIDs 顺序返回；任意一页失败则整体失败
func (s *PageStore) GetPages(ctx context.Context, pageIDs []string) ([]entity.Page, error) {
	pages := make([]entity.Page, len(pageIDs))
	g, gctx := errgroup.WithContext(ctx)
	if s.fetchLimit > 0 {
		g.SetLimit(s.fetchLimit)
	}
	for i, id := range pageIDs {
		g.Go(func() error {
			page, err := s.GetPage(gctx, id)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// PutPage 写穿：先写本地，isNew 时再在远端创建。
// 已知页面的重新缓存不会触发远端创建。
func (s *PageStore) PutPage(ctx context.Context, pageID string, page entity.Page, isNew bool) error {
	if err := s.writeLocal(ctx, cache.PageKey(pageID), page); err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	if err := s.remote.CreatePage(ctx, pageID, page); err != nil {
		var fe *entity.FetchError
		if !errors.As(err, &fe) && !errors.Is(err, entity.ErrHashMismatch) {
			err = &entity.FetchError{Key: pageID, Op: "create", Err: err}
		}
		return err
	}
	return nil
}

// Evict 只删除本地缓存；远端的旧页面不删除（页面不可变，保留成本低）
func (s *PageStore) Evict(ctx context.Context, pageID string) error {
	return s.kv.Delete(ctx, cache.PageKey(pageID))
}

// HasPage 只查本地
func (s *PageStore) HasPage(ctx context.Context, pageID string) (bool, error) {
	_, ok, err := s.readLocal(ctx, pageID)
	return ok, err
}

// LoadMetadata 读取本地保存的最近一次同步后的元数据。
// 未缓存返回 cache.ErrMiss；内容缺字段或无法解析返回 ErrMalformedMetadata。
func (s *PageStore) LoadMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error) {
	b, err := s.kv.Get(ctx, cache.MetaKey(docID))
	if err != nil {
		return entity.DocumentMetadata{}, err
	}
	var meta entity.DocumentMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return entity.DocumentMetadata{}, fmt.Errorf("decode metadata %s: %w", docID, entity.ErrMalformedMetadata)
	}
	if err := meta.Validate(); err != nil {
		return entity.DocumentMetadata{}, fmt.Errorf("metadata %s: %w", docID, err)
	}
	return meta, nil
}

func (s *PageStore) SaveMetadata(ctx context.Context, docID string, meta entity.DocumentMetadata) error {
	return s.writeLocal(ctx, cache.MetaKey(docID), meta)
}

// EnsureMetadata 远端 InitializeData（不存在则以默认值创建），结果写回本地。
// 远端不可达时退回本地缓存的元数据。
func (s *PageStore) EnsureMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error) {
	meta, err := s.remote.InitializeData(ctx, docID, entity.DefaultMetadata())
	if err != nil {
		if local, lerr := s.LoadMetadata(ctx, docID); lerr == nil {
			glog.Warningf("[pagestore] doc=%s remote init failed, using local metadata rev=%d: %v", docID, local.Revision, err)
			return local, nil
		}
		return entity.DocumentMetadata{}, err
	}
	if err := meta.Validate(); err != nil {
		glog.Warningf("[pagestore] doc=%s remote metadata malformed, using defaults", docID)
		meta = entity.DefaultMetadata()
	}
	if err := s.SaveMetadata(ctx, docID, meta); err != nil {
		return entity.DocumentMetadata{}, err
	}
	return meta, nil
}

func (s *PageStore) readLocal(ctx context.Context, pageID string) (entity.Page, bool, error) {
	b, err := s.kv.Get(ctx, cache.PageKey(pageID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var page entity.Page
	if err := json.Unmarshal(b, &page); err != nil {
		// 本地条目损坏当作未命中，重新回源
		glog.Warningf("[pagestore] drop unreadable local page=%s: %v", pageID, err)
		_ = s.kv.Delete(ctx, cache.PageKey(pageID))
		return nil, false, nil
	}
	return page, true, nil
}

func (s *PageStore) writeLocal(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, b)
}
