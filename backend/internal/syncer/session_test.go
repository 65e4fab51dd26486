package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibraude/marktwo/backend/internal/assemble"
	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/pagestore"
	"github.com/ibraude/marktwo/backend/internal/paginate"
	"github.com/ibraude/marktwo/backend/internal/remote"
	"github.com/ibraude/marktwo/backend/internal/repo"
	"github.com/ibraude/marktwo/backend/internal/service"
)

var testClock = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// flakyRemote 可按需让提交或页面读取失败
type flakyRemote struct {
	remote.Remote
	failSync  atomic.Bool
	failFetch atomic.Bool
}

func (f *flakyRemote) SyncByRevision(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.DocumentMetadata, error) {
	if f.failSync.Load() {
		return entity.DocumentMetadata{}, &entity.FetchError{Key: docID, Op: "sync", Err: errors.New("connection refused")}
	}
	return f.Remote.SyncByRevision(ctx, docID, meta)
}

func (f *flakyRemote) FetchPage(ctx context.Context, pageID string) (entity.Page, error) {
	if f.failFetch.Load() {
		return nil, &entity.FetchError{Key: pageID, Op: "fetch", Err: errors.New("connection refused")}
	}
	return f.Remote.FetchPage(ctx, pageID)
}

type transitionLog struct {
	mu    sync.Mutex
	steps []State
}

func (l *transitionLog) record(_ string, _, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, to)
}

func (l *transitionLog) reset() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.steps
	l.steps = nil
	return out
}

type client struct {
	remote *flakyRemote
	store  *pagestore.PageStore
	engine *Engine
	log    *transitionLog
}

func newClient(server remote.Remote, capacity int) *client {
	r := &flakyRemote{Remote: server}
	store := pagestore.New(cache.NewMemoryKV(), r, 4)
	log := &transitionLog{}
	engine := NewEngine(store, r, assemble.New(store), Options{
		PageCapacity: capacity,
		Clock:        func() time.Time { return testClock },
		OnTransition: log.record,
	})
	return &client{remote: r, store: store, engine: engine, log: log}
}

func newServer() (*repo.Memory, *service.SyncService) {
	mem := repo.NewMemory()
	return mem, service.NewSyncService(mem, mem, service.WithClock(func() time.Time { return testClock }))
}

func blocks(prefix string, n int) []entity.Block {
	out := make([]entity.Block, n)
	for i := range out {
		out[i] = entity.Block{ID: fmt.Sprintf("%s-%d", prefix, i), Text: fmt.Sprintf("%s paragraph %d", prefix, i)}
	}
	return out
}

func TestOpen_EmptyDocument(t *testing.T) {
	_, svc := newServer()
	c := newClient(svc, 0)
	ctx := context.Background()

	s, err := c.engine.Open(ctx, "doc1")
	require.NoError(t, err)

	doc := s.Document()
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, "", doc.Blocks[0].Text)

	// 打开后立即同步一次：占位文档成为 revision 1
	remoteMeta, err := svc.FetchMetadata(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), remoteMeta.Revision)
	assert.Equal(t, remoteMeta, s.Synced())
	assert.Equal(t, []State{Diffing, Committing, Accepted, Idle}, c.log.reset())

	again, err := c.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestSync_AcceptedBumpsRevision(t *testing.T) {
	_, svc := newServer()
	c := newClient(svc, 0)
	ctx := context.Background()

	s, err := c.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	s.Edit(blocks("v", 3))
	_, err = s.Sync(ctx)
	require.NoError(t, err)
	s.Edit(blocks("w", 3))
	_, err = s.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), s.Synced().Revision)
	c.log.reset()

	// 本地 revision 3，远端也是 3：提交被接受，远端变为 4
	edited := blocks("x", 4)
	s.Edit(edited)
	require.NoError(t, s.SetCaret("x-2"))
	out, err := s.Sync(ctx)
	require.NoError(t, err)

	_, wantIDs := paginate.Paginate(edited, "doc1", 0)
	assert.Equal(t, Accepted, out.Result)
	assert.Equal(t, uint64(4), out.Metadata.Revision)
	assert.Equal(t, wantIDs, out.Metadata.PageIDs)
	assert.Equal(t, "x-2", out.Metadata.CaretAt)
	assert.True(t, testClock.Equal(out.Metadata.LastModified))
	assert.Equal(t, []State{Diffing, Committing, Accepted, Idle}, c.log.reset())

	remoteMeta, err := svc.FetchMetadata(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, out.Metadata, remoteMeta)

	local, err := c.store.LoadMetadata(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, out.Metadata, local)

	// 文档保持本地编辑的内容
	assert.Equal(t, edited, s.Document().Blocks)
}

func TestSync_ConflictReassembles(t *testing.T) {
	_, svc := newServer()
	a := newClient(svc, 0)
	b := newClient(svc, 0)
	ctx := context.Background()

	sa, err := a.engine.Open(ctx, "doc1") // rev 1
	require.NoError(t, err)
	sa.Edit(blocks("a", 2))
	_, err = sa.Sync(ctx) // rev 2
	require.NoError(t, err)

	sb, err := b.engine.Open(ctx, "doc1") // rev 3，内容与 a 相同
	require.NoError(t, err)
	assert.Equal(t, sa.Document().Blocks, sb.Document().Blocks)

	// a 以 revision 2 提交相同的页面：远端返回 revision 3，页面一致，直接采用
	out, err := sa.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Result)
	require.Equal(t, uint64(3), sa.Synced().Revision)

	// b 先提交：revision 4
	sb.Edit(blocks("b", 5))
	out, err = sb.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, Accepted, out.Result)
	rev4 := out.Metadata
	require.Equal(t, uint64(4), rev4.Revision)

	// a 仍以 revision 3 提交：被拒绝，返回远端的 revision 4，按它重建
	a.log.reset()
	sa.Edit(blocks("a2", 1))
	_, rejectedIDs := paginate.Paginate(blocks("a2", 1), "doc1", 0)
	out, err = sa.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Conflicted, out.Result)
	// 被拒绝的页面从本地缓存清掉，远端版本的页面保留
	for _, id := range rejectedIDs {
		has, err := a.store.HasPage(ctx, id)
		require.NoError(t, err)
		assert.False(t, has, "rejected page %s still cached", id)
		assert.Contains(t, out.Evicted, id)
	}
	for _, id := range rev4.PageIDs {
		has, err := a.store.HasPage(ctx, id)
		require.NoError(t, err)
		assert.True(t, has, "page %s of the remote version not cached", id)
	}
	assert.Equal(t, rev4, out.Metadata)
	assert.Equal(t, sb.Document().Blocks, sa.Document().Blocks)
	assert.Equal(t, rev4, sa.Synced())
	assert.Equal(t, []State{Diffing, Committing, Conflicted, Reassembling, Idle}, a.log.reset())

	local, err := a.store.LoadMetadata(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, rev4, local)

	// 重建后再编辑，正常提交
	sa.Edit(blocks("a3", 1))
	out, err = sa.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Result)
	assert.Equal(t, uint64(5), out.Metadata.Revision)
}

func TestSync_FailedCommitLeavesStateUnchanged(t *testing.T) {
	_, svc := newServer()
	c := newClient(svc, 0)
	ctx := context.Background()

	s, err := c.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	before := s.Document()
	synced := s.Synced()

	c.remote.failSync.Store(true)
	s.Edit(blocks("v", 2))
	c.log.reset()
	_, err = s.Sync(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrFetchFailure))
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []State{Diffing, Committing, Idle}, c.log.reset())
	assert.Equal(t, synced, s.Synced())
	assert.NotEqual(t, before.Blocks, s.Document().Blocks) // 本地编辑保留，等待重试

	c.remote.failSync.Store(false)
	out, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Result)
	assert.Equal(t, synced.Revision+1, out.Metadata.Revision)
}

func TestSync_FailedReassemblyKeepsDocument(t *testing.T) {
	_, svc := newServer()
	a := newClient(svc, 0)
	b := newClient(svc, 0)
	ctx := context.Background()

	sa, err := a.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	sb, err := b.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	sb.Edit(blocks("b", 3))
	_, err = sb.Sync(ctx)
	require.NoError(t, err)

	sa.Edit(blocks("a", 1))
	shown := sa.Document()
	synced := sa.Synced()

	// 冲突后需要拉取 b 的新页面，此时远端不可读
	a.remote.failFetch.Store(true)
	_, err = sa.Sync(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrFetchFailure))
	assert.True(t, shown.Equal(sa.Document()))
	assert.Equal(t, synced, sa.Synced())
	local, err := a.store.LoadMetadata(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, synced, local)

	a.remote.failFetch.Store(false)
	out, err := sa.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Conflicted, out.Result)
	assert.Equal(t, sb.Document().Blocks, sa.Document().Blocks)
}

func TestSync_OnlyChangedPagesCreated(t *testing.T) {
	mem, svc := newServer()
	c := newClient(svc, 2)
	ctx := context.Background()

	s, err := c.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	bs := blocks("v", 5) // 3 页：2 + 2 + 1
	s.Edit(bs)
	out, err := s.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, out.Metadata.PageIDs, 3)
	pagesBefore := mem.PageCount()

	bs[4].Text = "edited"
	s.Edit(bs)
	out, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, out.Created, 1)
	assert.Len(t, out.Evicted, 1)
	assert.Equal(t, pagesBefore+1, mem.PageCount())

	// 被驱逐的页面只从本地删除
	has, err := c.store.HasPage(ctx, out.Evicted[0])
	require.NoError(t, err)
	assert.False(t, has)
	_, err = svc.FetchPage(ctx, out.Evicted[0])
	assert.NoError(t, err)
}

func TestSync_DuplicatePagesCreatedOnce(t *testing.T) {
	mem, svc := newServer()
	c := newClient(svc, 1)
	ctx := context.Background()

	s, err := c.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	pagesBefore := mem.PageCount()

	same := entity.Block{ID: "r", Text: "repeat"}
	s.Edit([]entity.Block{same, same, same})
	out, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, out.Metadata.PageIDs, 3)
	assert.Len(t, out.Created, 1)
	assert.Equal(t, pagesBefore+1, mem.PageCount())
}

func TestSync_SerialisedPerDocument(t *testing.T) {
	_, svc := newServer()
	c := newClient(svc, 0)
	ctx := context.Background()

	s, err := c.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	start := s.Synced().Revision

	const n = 8
	var wg sync.WaitGroup
	results := make([]Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Sync(ctx)
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, Accepted, results[i].Result)
	}
	assert.Equal(t, start+n, s.Synced().Revision)
}

func TestSession_Caret(t *testing.T) {
	_, svc := newServer()
	c := newClient(svc, 0)
	s, err := c.engine.Open(context.Background(), "doc1")
	require.NoError(t, err)

	s.Edit(blocks("v", 2))
	require.NoError(t, s.SetCaret("v-1"))
	assert.True(t, errors.Is(s.SetCaret("nope"), entity.ErrNotFound))
	assert.Equal(t, "v-1", s.Document().CaretAt)

	// 光标所在 block 被删除
	s.Edit(blocks("v", 1))
	assert.Equal(t, "", s.Document().CaretAt)
}

func TestEngine_SyncDoc(t *testing.T) {
	_, svc := newServer()
	c := newClient(svc, 0)
	ctx := context.Background()

	err := c.engine.SyncDoc(ctx, "doc1")
	assert.True(t, errors.Is(err, entity.ErrNotFound))

	_, err = c.engine.Open(ctx, "doc1")
	require.NoError(t, err)
	require.NoError(t, c.engine.SyncDoc(ctx, "doc1"))

	c.engine.Close("doc1")
	_, ok := c.engine.Session("doc1")
	assert.False(t, ok)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(Idle, Diffing))
	assert.True(t, canTransition(Committing, Conflicted))
	assert.True(t, canTransition(Conflicted, Reassembling))
	assert.True(t, canTransition(Reassembling, Idle))
	assert.False(t, canTransition(Idle, Committing))
	assert.False(t, canTransition(Accepted, Reassembling))
	assert.Equal(t, "reassembling", Reassembling.String())
}
