package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"

	"github.com/ibraude/marktwo/backend/internal/blocktext"
	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/pagestore"
	"github.com/ibraude/marktwo/backend/internal/remote"
	"github.com/ibraude/marktwo/backend/internal/syncer"
)

// NoticeWatcher 订阅远端的提交通知（remote.HTTPClient 实现）
type NoticeWatcher interface {
	Watch(ctx context.Context, docID string, fn func(remote.CommitNotice)) error
}

type app struct {
	engine   *syncer.Engine
	store    *pagestore.PageStore
	remote   remote.Remote
	watcher  NoticeWatcher
	debounce time.Duration
}

// 通知连接断开后的重连间隔
const rewatchDelay = 3 * time.Second

func (a *app) pull(ctx context.Context, docID string, w io.Writer) error {
	s, err := a.engine.Open(ctx, docID)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, blocktext.Join(s.Document().Blocks))
	return err
}

func (a *app) push(ctx context.Context, docID, file string) error {
	s, err := a.engine.Open(ctx, docID)
	if err != nil {
		return err
	}
	if _, err := loadFile(s, file); err != nil {
		return err
	}
	return a.syncOnce(ctx, s, file)
}

// status 对比本地缓存和远端的元数据，不提交任何内容
func (a *app) status(ctx context.Context, docID string, w io.Writer) error {
	remoteMeta, err := a.remote.FetchMetadata(ctx, docID)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		fmt.Fprintf(w, "remote: not created\n")
	case err != nil:
		return err
	default:
		fmt.Fprintf(w, "remote: rev=%d pages=%d\n", remoteMeta.Revision, len(remoteMeta.PageIDs))
	}

	local, err := a.store.LoadMetadata(ctx, docID)
	if errors.Is(err, cache.ErrMiss) {
		fmt.Fprintf(w, "local:  not synced\n")
		return nil
	}
	if err != nil {
		return err
	}
	cached := 0
	for _, id := range local.PageIDs {
		ok, err := a.store.HasPage(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			cached++
		}
	}
	fmt.Fprintf(w, "local:  rev=%d pages=%d cached=%d\n", local.Revision, len(local.PageIDs), cached)
	return nil
}

func (a *app) syncOnce(ctx context.Context, s *syncer.Session, file string) error {
	out, err := s.Sync(ctx)
	if err != nil {
		return err
	}
	switch out.Result {
	case syncer.Conflicted:
		glog.Infof("doc=%s: remote rev=%d wins, rewriting %s", s.DocID(), out.Metadata.Revision, file)
		return writeBack(file, s.Document())
	default:
		glog.V(1).Infof("doc=%s: synced rev=%d pages=%d", s.DocID(), out.Metadata.Revision, len(out.Metadata.PageIDs))
	}
	return nil
}

// watch 文件变化和远端提交都会触发（防抖后的）同步；冲突时用远端版本覆盖文件
func (a *app) watch(ctx context.Context, docID, file string) error {
	file, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	s, err := a.engine.Open(ctx, docID)
	if err != nil {
		return err
	}

	changed, err := loadFile(s, file)
	if errors.Is(err, fs.ErrNotExist) {
		// 文件还不存在：写出远端当前内容
		if err := writeBack(file, s.Document()); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	sched := syncer.NewScheduler(ctx, a.debounce, func(ctx context.Context, docID string) error {
		return a.syncOnce(ctx, s, file)
	})
	defer sched.Close()
	if changed {
		sched.Request(docID)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	// 监听目录：编辑器保存时常常是写临时文件再 rename
	if err := fw.Add(filepath.Dir(file)); err != nil {
		return err
	}

	go a.watchRemote(ctx, s, sched)

	glog.Infof("watching %s for doc=%s", file, docID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != file || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			changed, err := loadFile(s, file)
			if err != nil {
				glog.Warningf("read %s: %v", file, err)
				continue
			}
			if changed {
				sched.Request(docID)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			glog.Warningf("fsnotify: %v", err)
		}
	}
}

func (a *app) watchRemote(ctx context.Context, s *syncer.Session, sched *syncer.Scheduler) {
	for {
		err := a.watcher.Watch(ctx, s.DocID(), func(n remote.CommitNotice) {
			// 自己的提交也会收到通知，revision 不大于已同步的就忽略
			if n.Revision > s.Synced().Revision {
				sched.Request(s.DocID())
			}
		})
		if ctx.Err() != nil {
			return
		}
		glog.Warningf("doc=%s notice stream closed: %v", s.DocID(), err)
		select {
		case <-time.After(rewatchDelay):
		case <-ctx.Done():
			return
		}
	}
}

// loadFile 把文件内容交给 session；内容与当前文档相同时返回 false
func loadFile(s *syncer.Session, file string) (bool, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return false, err
	}
	cur := s.Document().Blocks
	if blocktext.Join(blocktext.Split(string(b), nil)) == blocktext.Join(cur) {
		return false, nil
	}
	s.Edit(blocktext.Split(string(b), cur))
	return true, nil
}

// writeBack 先写临时文件再 rename，避免编辑器读到写了一半的文件
func writeBack(file string, doc entity.Document) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), ".marktwo-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := io.WriteString(tmp, blocktext.Join(doc.Blocks)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}
