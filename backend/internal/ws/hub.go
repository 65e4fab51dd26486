package ws

import (
	"sync"

	"github.com/golang/glog"

	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/remote"
)

// Hub docID -> 订阅了该文档提交通知的连接。
// 只推送 "有新 revision" 的通知，客户端收到后自己走一次同步周期。
type Hub struct {
	mu sync.RWMutex
	// 一个用户可以开多个标签页/设备，所以按连接存
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// Subscribers 当前房间内的连接数
func (h *Hub) Subscribers(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}

// NotifyCommitted 实现 service.Notifier
func (h *Hub) NotifyCommitted(docID string, meta entity.DocumentMetadata) {
	msg := remote.CommitNotice{
		Type:     remote.NoticeMetadataCommitted,
		DocID:    docID,
		Revision: meta.Revision,
		PageIDs:  meta.PageIDs,
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.Enqueue(msg) {
			glog.V(1).Infof("[ws] doc=%s slow subscriber, notice rev=%d dropped", docID, meta.Revision)
		}
	}
}
