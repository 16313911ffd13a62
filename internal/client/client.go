// Package client talks to a file collection server over HTTP and its live channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"filecollection/internal/bridge"
	"filecollection/internal/repository"
	"filecollection/internal/resumable"
)

// APIError 是服务端返回的非 2xx 响应。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsForbidden 判断错误是否为服务端的 403。
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}

// Client 是集合 HTTP 端点的客户端，实现 bridge.Collection。
type Client struct {
	baseURL    string
	collection string
	token      string
	http       *http.Client
}

// Option 调整 Client 的可选配置。
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, collection, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		token:      token,
		http:       &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ bridge.Collection = (*Client)(nil)

// BaseURL 返回服务端根地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token 返回请求携带的令牌。
func (c *Client) Token() string {
	return c.token
}

// Collection 返回集合名。
func (c *Client) Collection() string {
	return c.collection
}

// Insert 创建文件记录。
func (c *Client) Insert(ctx context.Context, file bridge.NewFile) error {
	_, err := c.InsertRecord(ctx, file)
	return err
}

// InsertRecord 创建文件记录并返回服务端保存的结果。
func (c *Client) InsertRecord(ctx context.Context, file bridge.NewFile) (*repository.FileRecord, error) {
	body, err := json.Marshal(map[string]string{
		"id":          file.ID,
		"filename":    file.Filename,
		"contentType": file.ContentType,
	})
	if err != nil {
		return nil, err
	}

	var rec repository.FileRecord
	if err := c.doJSON(ctx, http.MethodPost, c.collectionURL("/"), bytes.NewReader(body), "application/json", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put 以整段内容写入文件。
func (c *Client) Put(ctx context.Context, id string, r io.Reader) (*repository.FileRecord, error) {
	var rec repository.FileRecord
	if err := c.doJSON(ctx, http.MethodPut, c.collectionURL("/"+url.PathEscape(id)), r, "application/octet-stream", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Remove 删除文件。
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.collectionURL("/"+url.PathEscape(id)), nil, "", nil)
}

// Download 按 md5 下载内容到 w，返回写入的字节数与服务端给出的文件名。
func (c *Client) Download(ctx context.Context, md5sum string, w io.Writer) (int64, string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.collectionURL("/"+url.PathEscape(md5sum)), nil, "")
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	filename := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	n, err := io.Copy(w, resp.Body)
	return n, filename, err
}

// ChunkParams 对应 resumable.js 的分片参数。
type ChunkParams struct {
	Identifier       string
	Filename         string
	Number           int
	TotalChunks      int
	ChunkSize        int64
	CurrentChunkSize int64
	TotalSize        int64
}

func (p ChunkParams) values() url.Values {
	v := url.Values{}
	v.Set(resumable.ParamIdentifier, p.Identifier)
	v.Set(resumable.ParamFilename, p.Filename)
	v.Set(resumable.ParamChunkNumber, strconv.Itoa(p.Number))
	v.Set(resumable.ParamTotalChunks, strconv.Itoa(p.TotalChunks))
	v.Set(resumable.ParamChunkSize, strconv.FormatInt(p.ChunkSize, 10))
	v.Set(resumable.ParamCurrentChunkSize, strconv.FormatInt(p.CurrentChunkSize, 10))
	v.Set(resumable.ParamTotalSize, strconv.FormatInt(p.TotalSize, 10))
	return v
}

// ChunkStatus 是分片上传后服务端报告的状态。
type ChunkStatus struct {
	ID       string                 `json:"id"`
	Received int                    `json:"received"`
	Total    int                    `json:"total"`
	Complete bool                   `json:"complete"`
	File     *repository.FileRecord `json:"file,omitempty"`
}

// HasChunk 询问服务端是否已有该分片。
func (c *Client) HasChunk(ctx context.Context, p ChunkParams) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.collectionURL("/_resumable?"+p.values().Encode()), nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

// UploadChunk 以 multipart/form-data 提交一个分片。
func (c *Client) UploadChunk(ctx context.Context, p ChunkParams, data []byte) (*ChunkStatus, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, values := range p.values() {
		if err := mw.WriteField(key, values[0]); err != nil {
			return nil, err
		}
	}
	part, err := mw.CreateFormFile(resumable.FileField, p.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var status ChunkStatus
	if err := c.doJSON(ctx, http.MethodPost, c.collectionURL("/_resumable"), &buf, mw.FormDataContentType(), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) collectionURL(suffix string) string {
	return c.baseURL + "/gridfs/" + c.collection + suffix
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var env struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&env)
		if env.Error == "" {
			env.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, target string, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, method, target, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
