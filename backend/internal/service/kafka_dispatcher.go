package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrDispatcherClosed = errors.New("kafka dispatcher closed")

// CommitEvent 元数据提交被接受后写入 Kafka 的事件，以 docId 为 key 便于按文档分区
type CommitEvent struct {
	EventType    string    `json:"eventType"` // 固定 "METADATA_COMMITTED"
	DocID        string    `json:"docId"`
	Revision     uint64    `json:"revision"`
	BaseRevision uint64    `json:"baseRevision"`
	PageIDs      []string  `json:"pageIds"`
	CreatedPages []string  `json:"createdPages,omitempty"`
	RetiredPages []string  `json:"retiredPages,omitempty"` // 不再被引用的旧页面，远端暂不删除
	CaretAt      string    `json:"caretAt,omitempty"`
	CommittedAt  time.Time `json:"committedAt"`
}

const EventMetadataCommitted = "METADATA_COMMITTED"

// EventSink 提交事件的出口；nil 表示不发送
type EventSink interface {
	Enqueue(ctx context.Context, evt CommitEvent) error
}

// KafkaDispatcher 本地有界队列 + worker 异步发送 + 有限重试。
// 提交流程只负责入队；队列满时等到 ctx 超时后放弃这条事件。
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan CommitEvent
	wg    sync.WaitGroup

	// 入队持读锁，Close 持写锁关闭 queue
	mu     sync.RWMutex
	closed bool

	// 限制并发的 SendMessage 数量
	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan CommitEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt CommitEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新事件，等待队列中的事件发送完；之后的 Enqueue 返回 ErrDispatcherClosed
func (d *KafkaDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *KafkaDispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(workerID int) {
			defer d.wg.Done()
			for evt := range d.queue {
				d.sendWithRetry(workerID, evt)
			}
		}(i)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt CommitEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// worker 可以一直等，不影响提交主链路
			_ = d.sem.Acquire(context.Background())
		}
		err := d.sendOnce(evt)
		if d.sem != nil {
			_ = d.sem.Release()
		}
		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			glog.Errorf("[kafka] drop event doc=%s rev=%d worker=%d err=%v", evt.DocID, evt.Revision, workerID, err)
			return
		}

		// 指数退避，封顶 maxBackoff
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		glog.V(1).Infof("[kafka] retry doc=%s rev=%d attempt=%d backoff=%s err=%v", evt.DocID, evt.Revision, attempt+1, backoff, err)
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt CommitEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
