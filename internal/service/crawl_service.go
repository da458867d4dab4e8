package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/crawler"
	"chatfabrica-go/pkg/llm"
	"chatfabrica-go/pkg/log"

	"golang.org/x/sync/errgroup"
)

// PageCrawler 是抓取服务的客户端接口，由 crawler.Client 实现。
type PageCrawler interface {
	CrawlSite(ctx context.Context, url string) ([]crawler.Page, error)
	CrawlPage(ctx context.Context, url string) (*crawler.Page, error)
	CrawlSitemap(ctx context.Context, xmlURL string) ([]crawler.Page, error)
}

// CrawlService 把网页抓取成待训练的链接条目。结果只返回给调用方暂存，不写入目录。
type CrawlService interface {
	Crawl(ctx context.Context, userID, chatbotID uint, siteURL string) ([]model.TrainingData, error)
	CrawlSingle(ctx context.Context, userID, chatbotID uint, urls []string) ([]model.TrainingData, error)
	CrawlSitemap(ctx context.Context, userID, chatbotID uint, xmlURL string) ([]model.TrainingData, error)
}

type crawlService struct {
	userRepo    repository.UserRepository
	chatbotRepo repository.ChatbotRepository
	gateway     *Gateway
	crawler     PageCrawler
	cfg         config.IngestionConfig
}

// NewCrawlService 创建一个新的 CrawlService 实例。
func NewCrawlService(
	userRepo repository.UserRepository,
	chatbotRepo repository.ChatbotRepository,
	gateway *Gateway,
	pageCrawler PageCrawler,
	cfg config.IngestionConfig,
) CrawlService {
	return &crawlService{
		userRepo:    userRepo,
		chatbotRepo: chatbotRepo,
		gateway:     gateway,
		crawler:     pageCrawler,
		cfg:         cfg,
	}
}

func (s *crawlService) Crawl(ctx context.Context, userID, chatbotID uint, siteURL string) ([]model.TrainingData, error) {
	if err := validateURL(siteURL); err != nil {
		return nil, err
	}
	return s.run(ctx, "CrawlService.Crawl", userID, chatbotID, func(ctx context.Context) ([]crawler.Page, error) {
		return s.crawler.CrawlSite(ctx, siteURL)
	})
}

func (s *crawlService) CrawlSingle(ctx context.Context, userID, chatbotID uint, urls []string) ([]model.TrainingData, error) {
	if len(urls) == 0 {
		return nil, precondition("Invalid data")
	}
	for _, u := range urls {
		if err := validateURL(u); err != nil {
			return nil, err
		}
	}
	return s.run(ctx, "CrawlService.CrawlSingle", userID, chatbotID, func(ctx context.Context) ([]crawler.Page, error) {
		pages := make([]crawler.Page, 0, len(urls))
		for _, u := range urls {
			page, err := s.crawler.CrawlPage(ctx, u)
			if err != nil {
				return nil, err
			}
			pages = append(pages, *page)
		}
		return pages, nil
	})
}

func (s *crawlService) CrawlSitemap(ctx context.Context, userID, chatbotID uint, xmlURL string) ([]model.TrainingData, error) {
	if err := validateURL(xmlURL); err != nil {
		return nil, err
	}
	return s.run(ctx, "CrawlService.CrawlSitemap", userID, chatbotID, func(ctx context.Context) ([]crawler.Page, error) {
		return s.crawler.CrawlSitemap(ctx, xmlURL)
	})
}

// run 校验归属与密钥后调用抓取服务，再把每个页面上传成一个 .txt 文档。
func (s *crawlService) run(ctx context.Context, op string, userID, chatbotID uint, fetch func(context.Context) ([]crawler.Page, error)) ([]model.TrainingData, error) {
	user, err := findUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, internal(op, err)
	}
	if _, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID); err != nil {
		return nil, internal(op, err)
	}
	client, err := s.gateway.ForUser(user)
	if err != nil {
		return nil, internal(op, err)
	}

	pages, err := fetch(ctx)
	if err != nil {
		var statusErr *crawler.StatusError
		if errors.As(err, &statusErr) {
			log.Errorw("["+op+"] 抓取服务返回错误", "status", statusErr.StatusCode, "error", err)
			return nil, upstream("Error in crawling website", err)
		}
		return nil, internal(op, err)
	}
	log.Infof("[CrawlService] 聊天机器人 %d 抓取到 %d 个页面", chatbotID, len(pages))

	links, err := s.uploadPages(ctx, client, pages)
	if err != nil {
		return nil, internal(op, err)
	}
	return links, nil
}

// uploadPages 并发上传页面正文，结果顺序与页面顺序一致；任何一个失败都会清理已上传的文档。
func (s *crawlService) uploadPages(ctx context.Context, client llm.Client, pages []crawler.Page) ([]model.TrainingData, error) {
	pages = nonEmptyPages(pages)
	links := make([]model.TrainingData, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.UploadConcurrency > 0 {
		g.SetLimit(s.cfg.UploadConcurrency)
	}
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			docID, name, err := uploadText(gctx, client, pageSeed(page), page.Body)
			if err != nil {
				return err
			}
			links[i] = model.TrainingData{
				FileID:          docID,
				Name:            name,
				URL:             page.URL,
				CharactersCount: page.CharacterCount,
				Body:            page.Body,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var uploaded []string
		for _, l := range links {
			if l.FileID != "" {
				uploaded = append(uploaded, l.FileID)
			}
		}
		client.DeleteDocuments(ctx, uploaded)
		return nil, err
	}
	return links, nil
}

func nonEmptyPages(pages []crawler.Page) []crawler.Page {
	out := make([]crawler.Page, 0, len(pages))
	for _, p := range pages {
		if p.Body != "" {
			out = append(out, p)
		}
	}
	return out
}

// pageSeed 用 URL 的 host 与 path 作为文件名种子。
func pageSeed(page crawler.Page) string {
	u, err := url.Parse(page.URL)
	if err != nil || u.Host == "" {
		return page.URL
	}
	return u.Host + u.Path
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return precondition("Invalid URL: %s", raw)
	}
	return nil
}
