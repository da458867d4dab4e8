// Package llm 是外部 AI 服务（OpenAI Assistants v2）的薄封装。
// 每个 Client 绑定一个用户的密钥，由 Factory.ForUser 按请求构造，不跨用户缓存。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/pkg/log"
)

// ErrAPIKeyRequired 表示用户没有保存密钥，任何调用都不会发出。
var ErrAPIKeyRequired = errors.New("llm: api key required")

// APIError 是外部服务返回的非 2xx 响应。
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Client 定义了外部服务的全部原语。
type Client interface {
	CreateAssistant(ctx context.Context, params AssistantParams) (string, error)
	UpdateAssistant(ctx context.Context, assistantID string, fields AssistantFields) error
	DeleteAssistant(ctx context.Context, assistantID string) error
	UploadDocument(ctx context.Context, localPath string) (string, error)
	// DeleteDocuments 尽力删除，失败只记录日志。
	DeleteDocuments(ctx context.Context, documentIDs []string)
	BuildVectorStore(ctx context.Context, name string, documentIDs []string) (string, error)
	AttachVectorStore(ctx context.Context, assistantID, vectorStoreID string) error
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID, role, content string) error
	StartRun(ctx context.Context, assistantID, threadID string) (string, error)
	PollRun(ctx context.Context, threadID, runID string) (*Run, error)
	// ListMessages 返回 thread 上的消息（新的在前），role 为空时不过滤。
	ListMessages(ctx context.Context, threadID, role string) ([]Message, error)
}

// Factory 为某个用户的明文密钥构造 Client。
type Factory interface {
	ForUser(apiKey string) (Client, error)
}

type httpFactory struct {
	baseURL    string
	httpClient *http.Client
}

// NewFactory 创建基于 net/http 的 Factory。
func NewFactory(cfg config.OpenAIConfig) Factory {
	return &httpFactory{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (f *httpFactory) ForUser(apiKey string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	return &assistantsClient{baseURL: f.baseURL, apiKey: apiKey, httpClient: f.httpClient}, nil
}

type assistantsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type idResponse struct {
	ID string `json:"id"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *assistantsClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	return req, nil
}

func (c *assistantsClient) send(op string, req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		msg := strings.TrimSpace(string(raw))
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("llm %s: decode response: %w", op, err)
	}
	return nil
}

func (c *assistantsClient) doJSON(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("llm %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(op, req, out)
}

func (c *assistantsClient) UploadDocument(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("llm upload: open %s: %w", localPath, err)
	}
	defer f.Close()

	// multipart 请求体边写边发，不把文件读进内存
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("purpose", "assistants")
		if err == nil {
			var part io.Writer
			part, err = mw.CreateFormFile("file", filepath.Base(localPath))
			if err == nil {
				_, err = io.Copy(part, f)
			}
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/files", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out idResponse
	if err := c.send("upload", req, &out); err != nil {
		pr.Close()
		return "", err
	}
	return out.ID, nil
}

func (c *assistantsClient) DeleteDocuments(ctx context.Context, documentIDs []string) {
	for _, id := range documentIDs {
		if id == "" {
			continue
		}
		if err := c.doJSON(ctx, "delete file", http.MethodDelete, "/files/"+url.PathEscape(id), nil, nil); err != nil {
			log.Warnw("[LLM] 删除外部文档失败，忽略", "documentId", id, "error", err)
		}
	}
}

func (c *assistantsClient) BuildVectorStore(ctx context.Context, name string, documentIDs []string) (string, error) {
	body := map[string]interface{}{"name": name, "file_ids": documentIDs}
	var out idResponse
	if err := c.doJSON(ctx, "create vector store", http.MethodPost, "/vector_stores", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *assistantsClient) AttachVectorStore(ctx context.Context, assistantID, vectorStoreID string) error {
	body := map[string]interface{}{
		"tool_resources": map[string]interface{}{
			"file_search": map[string]interface{}{"vector_store_ids": []string{vectorStoreID}},
		},
	}
	return c.doJSON(ctx, "attach vector store", http.MethodPost, "/assistants/"+url.PathEscape(assistantID), body, nil)
}

func (c *assistantsClient) CreateThread(ctx context.Context) (string, error) {
	var out idResponse
	if err := c.doJSON(ctx, "create thread", http.MethodPost, "/threads", map[string]interface{}{}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *assistantsClient) AppendMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	return c.doJSON(ctx, "append message", http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", body, nil)
}

func (c *assistantsClient) StartRun(ctx context.Context, assistantID, threadID string) (string, error) {
	body := map[string]string{"assistant_id": assistantID}
	var out Run
	if err := c.doJSON(ctx, "start run", http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *assistantsClient) PollRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var out Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.doJSON(ctx, "poll run", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *assistantsClient) ListMessages(ctx context.Context, threadID, role string) ([]Message, error) {
	var out struct {
		Data []Message `json:"data"`
	}
	path := "/threads/" + url.PathEscape(threadID) + "/messages?order=desc&limit=100"
	if err := c.doJSON(ctx, "list messages", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if role == "" {
		return out.Data, nil
	}
	filtered := make([]Message, 0, len(out.Data))
	for _, m := range out.Data {
		if m.Role == role {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}
