package entity

import (
	"errors"
	"fmt"
)

var (
	// 远端不可达或 key 不存在；由调用方决定重试还是上报
	ErrFetchFailure = errors.New("FETCH_FAILURE")
	// 远端返回的页面内容重新计算的 hash 与页面 ID 不一致，视为损坏
	ErrHashMismatch = errors.New("HASH_MISMATCH")
	// 元数据缺少必填字段，可回退到默认元数据
	ErrMalformedMetadata = errors.New("MALFORMED_METADATA")
	// key 在远端不存在
	ErrNotFound = errors.New("NOT_FOUND")
)

// FetchError 单个 key 的远端读写失败
type FetchError struct {
	Key string
	Op  string // "fetch" / "create"
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrFetchFailure) 对所有 FetchError 成立，
// 同时 Unwrap 保留底层原因（例如 ErrNotFound）
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailure
}
