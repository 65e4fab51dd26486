package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/ibraude/marktwo/backend/internal/remote"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// 允许本地开发环境的来源
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境不发送 Origin，或为 "null"
		return true
	}
	for _, p := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Conn struct {
	ws    *websocket.Conn
	docID string
	// 出站队列；满了就丢，客户端下一次同步时自然会追上
	send      chan remote.CommitNotice
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, docID string) *Conn {
	return &Conn{ws: ws, docID: docID, send: make(chan remote.CommitNotice, 16), done: make(chan struct{})}
}

// Enqueue 非阻塞入队，返回是否成功
func (c *Conn) Enqueue(msg remote.CommitNotice) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Subscribe gin handler：升级为 websocket，加入 :docID 房间，直到连接断开
func (h *Hub) Subscribe(c *gin.Context) {
	docID := c.Param("docID")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing docID"})
		return
	}
	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.Warningf("[ws] upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	conn := newConn(wsConn, docID)
	h.Join(docID, conn)
	defer h.Leave(docID, conn)
	defer conn.close()

	go conn.writeLoop()
	conn.readLoop()
}

// readLoop 客户端不发业务消息，只处理 pong/close
func (c *Conn) readLoop() {
	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.V(1).Infof("[ws] doc=%s read error: %v", c.docID, err)
			}
			return
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
