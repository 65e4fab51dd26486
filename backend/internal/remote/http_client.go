package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPClient 通过 pagesync_server 的 /v1 接口访问远端
type HTTPClient struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
}

var _ Remote = (*HTTPClient)(nil)

// baseURL 不要带路径：例如 http://localhost:3002，路径由客户端自己拼
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		dialer:  websocket.DefaultDialer,
	}
}

// SyncResponse POST /metadata/sync 的响应体
type SyncResponse struct {
	Accepted bool                    `json:"accepted"`
	Metadata entity.DocumentMetadata `json:"metadata"`
}

func (c *HTTPClient) FetchMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error) {
	var meta entity.DocumentMetadata
	err := c.do(ctx, http.MethodGet, "/v1/docs/"+url.PathEscape(docID)+"/metadata", nil, &meta)
	if err != nil {
		return entity.DocumentMetadata{}, &entity.FetchError{Key: docID, Op: "fetch", Err: err}
	}
	return meta, nil
}

func (c *HTTPClient) FetchPage(ctx context.Context, pageID string) (entity.Page, error) {
	var page entity.Page
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+url.PathEscape(pageID), nil, &page); err != nil {
		return nil, &entity.FetchError{Key: pageID, Op: "fetch", Err: err}
	}
	return page, nil
}

func (c *HTTPClient) CreatePage(ctx context.Context, pageID string, page entity.Page) error {
	if err := c.do(ctx, http.MethodPut, "/v1/pages/"+url.PathEscape(pageID), page, nil); err != nil {
		if err == entity.ErrHashMismatch {
			return fmt.Errorf("create page %s: %w", pageID, err)
		}
		return &entity.FetchError{Key: pageID, Op: "create", Err: err}
	}
	return nil
}

func (c *HTTPClient) SyncByRevision(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.DocumentMetadata, error) {
	var resp SyncResponse
	if err := c.do(ctx, http.MethodPost, "/v1/docs/"+url.PathEscape(docID)+"/metadata/sync", meta, &resp); err != nil {
		return entity.DocumentMetadata{}, &entity.FetchError{Key: docID, Op: "sync", Err: err}
	}
	return resp.Metadata, nil
}

func (c *HTTPClient) InitializeData(ctx context.Context, docID string, defaults entity.DocumentMetadata) (entity.DocumentMetadata, error) {
	var meta entity.DocumentMetadata
	if err := c.do(ctx, http.MethodPost, "/v1/docs/"+url.PathEscape(docID)+"/metadata/init", defaults, &meta); err != nil {
		return entity.DocumentMetadata{}, &entity.FetchError{Key: docID, Op: "init", Err: err}
	}
	return meta, nil
}

type errResp struct {
	Error string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// 这里包含超时：context deadline exceeded
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return entity.ErrNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return entity.ErrHashMismatch
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var e errResp
		_ = json.NewDecoder(resp.Body).Decode(&e) // 尽力解析错误信息
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Watch 订阅 docID 的提交通知，直到 ctx 结束或连接断开
func (c *HTTPClient) Watch(ctx context.Context, docID string, fn func(CommitNotice)) error {
	u, err := url.Parse(c.baseURL + "/v1/docs/" + url.PathEscape(docID) + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	// ctx 结束时关闭连接，让 ReadJSON 返回
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var notice CommitNotice
		if err := conn.ReadJSON(&notice); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if notice.Type != NoticeMetadataCommitted {
			glog.V(2).Infof("[watch] doc=%s ignore message type=%s", docID, notice.Type)
			continue
		}
		fn(notice)
	}
}
