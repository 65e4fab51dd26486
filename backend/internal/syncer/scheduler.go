package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/golang/glog"
)

const DefaultDebounce = 5 * time.Second

// RunFunc 执行某个文档的一次同步周期
type RunFunc func(ctx context.Context, docID string) error

// Scheduler 把连续的编辑请求合并成一次同步：每个文档一个防抖定时器，
// 静默 window 之后触发。同一文档同一时刻最多一个周期在执行，
// 执行期间到来的触发只记一个待办位，结束后再补跑一次。
type Scheduler struct {
	ctx    context.Context
	window time.Duration
	run    RunFunc

	mu     sync.Mutex
	docs   map[string]*slot
	closed bool
	wg     sync.WaitGroup
}

type slot struct {
	debounced func(f func())
	running   bool
	pending   bool
}

func NewScheduler(ctx context.Context, window time.Duration, run RunFunc) *Scheduler {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Scheduler{ctx: ctx, window: window, run: run, docs: make(map[string]*slot)}
}

// Request 记录一次同步请求，重置该文档的防抖计时
func (s *Scheduler) Request(docID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	sl, ok := s.docs[docID]
	if !ok {
		sl = &slot{debounced: debounce.New(s.window)}
		s.docs[docID] = sl
	}
	s.mu.Unlock()

	sl.debounced(func() { s.fire(docID) })
}

func (s *Scheduler) fire(docID string) {
	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	sl := s.docs[docID]
	if sl.running {
		sl.pending = true
		s.mu.Unlock()
		glog.V(2).Infof("[scheduler] doc=%s cycle in flight, queued", docID)
		return
	}
	sl.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(docID, sl)
}

func (s *Scheduler) loop(docID string, sl *slot) {
	defer s.wg.Done()
	for {
		if err := s.run(s.ctx, docID); err != nil {
			glog.Warningf("[scheduler] doc=%s sync: %v", docID, err)
		}

		s.mu.Lock()
		if !sl.pending || s.closed || s.ctx.Err() != nil {
			sl.running = false
			sl.pending = false
			s.mu.Unlock()
			return
		}
		sl.pending = false
		s.mu.Unlock()
	}
}

// Close 不再接受新的触发，等待执行中的周期结束。未到期的防抖定时器直接丢弃。
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
