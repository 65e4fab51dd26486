package cache

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	BaseTTL = 24 * time.Hour   // 基础过期时间
	Jitter  = 60 * time.Minute // 随机抖动范围
	NullTTL = 5 * time.Minute  // 空值标记的过期时间
)

// 空值标记；页面内容是 JSON 数组，不会与它相同
var nullMarker = []byte("-")

// 获取随机TTL，防止缓存雪崩
func randomTTL() time.Duration {
	return BaseTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

// LoadFunc 回源：found=false 表示数据不存在
type LoadFunc func(ctx context.Context) (val []byte, found bool, err error)

// ReadThrough 服务端读缓存的组合策略：Singleflight + 空值缓存 + 随机 TTL。
// 只适合不可变的值（页面），没有更新失效。
type ReadThrough struct {
	kv KV
	sf singleflight.Group
}

func NewReadThrough(kv KV) *ReadThrough {
	return &ReadThrough{kv: kv}
}

func (r *ReadThrough) Get(ctx context.Context, key string, load LoadFunc) ([]byte, bool, error) {
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		b, err := r.kv.Get(ctx, key)
		switch {
		case err == nil:
			if bytes.Equal(b, nullMarker) {
				return nil, nil
			}
			return b, nil
		case !errors.Is(err, ErrMiss):
			return nil, err
		}

		// 回源 (缓存 Miss)
		val, found, err := load(ctx)
		if err != nil {
			return nil, err
		}
		// 填入真实值或者空值缓存，防止缓存穿透；写缓存失败不影响返回
		if !found {
			_ = r.kv.SetEx(ctx, key, nullMarker, NullTTL)
			return nil, nil
		}
		_ = r.kv.SetEx(ctx, key, val, randomTTL())
		return val, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	// 使用断言确保不会panic
	b, ok := v.([]byte)
	if !ok {
		return nil, false, errors.New("internal type error")
	}
	return b, true, nil
}

// Forget 删除缓存（包括空值标记），数据写入后调用
func (r *ReadThrough) Forget(ctx context.Context, key string) error {
	return r.kv.Delete(ctx, key)
}
