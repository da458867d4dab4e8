// Package crawler 是外部抓取服务的客户端，负责把 URL 或 sitemap 变成页面正文。
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/pkg/log"
)

// Page 是抓取服务返回的单个页面。
type Page struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	CharacterCount int    `json:"characterCount"`
}

// StatusError 表示抓取服务返回了非 2xx。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crawler returned status %d: %s", e.StatusCode, e.Body)
}

// Client 是抓取服务的客户端。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建一个新的抓取服务客户端实例。
func NewClient(cfg config.CrawlerConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// CrawlSite 请求同域整站抓取，请求数与重试次数由抓取服务控制。
func (c *Client) CrawlSite(ctx context.Context, url string) ([]Page, error) {
	var out struct {
		PageContent []Page `json:"page_content"`
	}
	if err := c.post(ctx, "/load-url", map[string]string{"url": url}, &out); err != nil {
		return nil, err
	}
	return sanitizePages(out.PageContent), nil
}

// CrawlPage 只抓取一个 URL。
func (c *Client) CrawlPage(ctx context.Context, url string) (*Page, error) {
	var out struct {
		PageContent Page `json:"page_content"`
	}
	if err := c.post(ctx, "/load-url/single", map[string]string{"url": url}, &out); err != nil {
		return nil, err
	}
	pages := sanitizePages([]Page{out.PageContent})
	return &pages[0], nil
}

// CrawlSitemap 解析 sitemap 并抓取其中的全部条目。
func (c *Client) CrawlSitemap(ctx context.Context, xmlURL string) ([]Page, error) {
	var out struct {
		PageContent []Page `json:"page_content"`
	}
	if err := c.post(ctx, "/load-url/sitemap", map[string]string{"xmlUrl": xmlURL}, &out); err != nil {
		return nil, err
	}
	return sanitizePages(out.PageContent), nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("创建抓取请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Infof("[Crawler] POST %s", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用抓取服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析抓取结果失败: %w", err)
	}
	return nil
}

var (
	scriptPattern     = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	strayScriptTag    = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeBody 去掉内嵌的 <script> 并把连续空白压成一个空格。
func SanitizeBody(body string) string {
	body = scriptPattern.ReplaceAllString(body, " ")
	body = strayScriptTag.ReplaceAllString(body, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(body, " "))
}

// 字符数以清洗后的正文为准，不信任抓取服务给出的数字。
func sanitizePages(pages []Page) []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		p.Body = SanitizeBody(p.Body)
		p.CharacterCount = len([]rune(p.Body))
		out = append(out, p)
	}
	return out
}
