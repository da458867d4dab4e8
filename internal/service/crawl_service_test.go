package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/testutil"
	"chatfabrica-go/pkg/crawler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCrawlerServer(t *testing.T, handler http.HandlerFunc) *crawler.Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return crawler.NewClient(config.CrawlerConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestCrawlUploadsSanitizedPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Free: true, Chatbots: 1, Characters: 400000})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_seed", "gpt-4o-mini")

	body := strings.Repeat("a", 500) + "<script>track()</script>"
	pages := newCrawlerServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"page_content": []map[string]interface{}{
				{"url": "https://example.com/", "title": "Home", "body": body},
				{"url": "https://example.com/empty", "title": "Empty", "body": "<script>x()</script>"},
				{"url": "https://example.com/about", "title": "About", "body": "about us"},
			},
		})
	})
	svc := NewCrawlService(h.users, h.chatbots, h.gateway, pages, h.ingestion)

	links, err := svc.Crawl(ctx, user.ID, bot.ID, "https://example.com")
	require.NoError(t, err)
	require.Len(t, links, 2, "pages without content are skipped")

	first := links[0]
	assert.Equal(t, "https://example.com/", first.URL)
	assert.Equal(t, 500, first.CharactersCount)
	assert.NotContains(t, first.Body, "script")
	assert.Equal(t, strings.Repeat("a", 500), h.llm.uploads[first.FileID])
	assert.True(t, strings.HasPrefix(first.Name, "example-com-"))
	assert.Equal(t, "https://example.com/about", links[1].URL)

	// 抓取结果只暂存，不写入目录
	assert.Empty(t, h.reloadBot(t, bot.ID).TrainingDatas)
}

func TestCrawlSingleAndSitemap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Free: true, Chatbots: 1, Characters: 400000})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_seed", "gpt-4o-mini")

	pages := newCrawlerServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch r.URL.Path {
		case "/load-url/single":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"page_content": map[string]string{"url": req["url"], "body": "page " + req["url"]},
			})
		case "/load-url/sitemap":
			assert.Equal(t, "https://example.com/sitemap.xml", req["xmlUrl"])
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"page_content": []map[string]string{{"url": "https://example.com/a", "body": "a"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	svc := NewCrawlService(h.users, h.chatbots, h.gateway, pages, h.ingestion)

	links, err := svc.CrawlSingle(ctx, user.ID, bot.ID, []string{"https://example.com/x", "https://example.com/y"})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "https://example.com/x", links[0].URL)
	assert.Equal(t, "https://example.com/y", links[1].URL)

	links, err = svc.CrawlSitemap(ctx, user.ID, bot.ID, "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 1, links[0].CharactersCount)
}

func TestCrawlErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Free: true, Chatbots: 1, Characters: 400000})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_seed", "gpt-4o-mini")

	pages := newCrawlerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	svc := NewCrawlService(h.users, h.chatbots, h.gateway, pages, h.ingestion)

	_, err := svc.Crawl(ctx, user.ID, bot.ID, "https://example.com")
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Error in crawling website", appErr.Message)

	_, err = svc.Crawl(ctx, user.ID, bot.ID, "ftp://example.com")
	assert.Equal(t, KindPrecondition, KindOf(err))

	_, err = svc.CrawlSingle(ctx, user.ID, bot.ID, nil)
	assert.EqualError(t, err, "Invalid data")

	_, err = svc.Crawl(ctx, user.ID, bot.ID+1, "https://example.com")
	assert.ErrorIs(t, err, ErrChatbotNotFound)
}

func TestCrawlCleansUpOnUploadFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.owner(t, testutil.GrantOptions{Free: true, Chatbots: 1, Characters: 400000})
	bot := testutil.SeedChatbot(t, h.db, user.ID, "asst_seed", "gpt-4o-mini")
	h.llm.failUpload = true

	pages := newCrawlerServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"page_content": []map[string]string{{"url": "https://example.com/", "body": "hello"}},
		})
	})
	svc := NewCrawlService(h.users, h.chatbots, h.gateway, pages, h.ingestion)

	_, err := svc.Crawl(ctx, user.ID, bot.ID, "https://example.com")
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Zero(t, h.llm.uploadCount())
}
