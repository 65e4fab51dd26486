package repo

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// cachedPageRepo 在页面仓库前加一层读缓存（redis）。页面不可变，所以不需要失效逻辑，
// 只有创建时要清掉可能存在的空值标记。
type cachedPageRepo struct {
	inner PageRepo
	rt    *cache.ReadThrough
}

func NewCachedPageRepo(inner PageRepo, kv cache.KV) PageRepo {
	return &cachedPageRepo{inner: inner, rt: cache.NewReadThrough(kv)}
}

func (r *cachedPageRepo) GetPage(ctx context.Context, pageID string) (entity.Page, error) {
	b, found, err := r.rt.Get(ctx, cache.StorePageKey(pageID), func(ctx context.Context) ([]byte, bool, error) {
		page, err := r.inner.GetPage(ctx, pageID)
		if errors.Is(err, entity.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		b, err := json.Marshal(page)
		return b, err == nil, err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, entity.ErrNotFound
	}
	var page entity.Page
	if err := json.Unmarshal(b, &page); err != nil {
		return nil, fmt.Errorf("decode cached page %s: %w", pageID, err)
	}
	return page, nil
}

func (r *cachedPageRepo) CreatePage(ctx context.Context, docID, pageID string, page entity.Page) error {
	if err := r.inner.CreatePage(ctx, docID, pageID, page); err != nil {
		return err
	}
	return r.rt.Forget(ctx, cache.StorePageKey(pageID))
}
