package handler

import (
	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxUploadMemory 是解析 multipart 时保留在内存中的上限，超出部分落盘。
const maxUploadMemory = 32 << 20

// DocumentHandler 负责知识条目的上传、抓取、删除与训练。
type DocumentHandler struct {
	trainingService service.TrainingService
	docService      service.DocumentService
	crawlService    service.CrawlService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(trainingService service.TrainingService, docService service.DocumentService, crawlService service.CrawlService) *DocumentHandler {
	return &DocumentHandler{
		trainingService: trainingService,
		docService:      docService,
		crawlService:    crawlService,
	}
}

// Train 提交一次训练：上传全部条目、重建向量库并挂到助手上。
func (h *DocumentHandler) Train(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req service.TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Train: Invalid request payload, error: %v", err)
		badRequest(c, msgInvalidData)
		return
	}
	req.ChatbotID = chatbotID

	view, err := h.trainingService.Train(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, gin.H{"data": view})
}

// UploadFile 上传一个文件到外部服务，返回待训练的条目。
func (h *DocumentHandler) UploadFile(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "File is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Error("UploadFile: failed to open multipart file", err)
		badRequest(c, msgInvalidData)
		return
	}
	defer file.Close()

	item, err := h.docService.UploadFile(c.Request.Context(), currentUserID(c), chatbotID, fileHeader.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, item)
}

// RemoveItemsRequest 是要删除的文档 ID 列表。
type RemoveItemsRequest struct {
	IDs []string `json:"ids"`
}

// RemoveItems 从目录中删除条目，并尽力删除外部文档。
func (h *DocumentHandler) RemoveItems(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req RemoveItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	view, err := h.docService.RemoveItems(c.Request.Context(), currentUserID(c), chatbotID, req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

// UpdateLinksRequest 是新的链接列表，null 表示清空。
type UpdateLinksRequest struct {
	Links []model.TrainingData `json:"links"`
}

// UpdateLinks 合并链接并保存目录。
func (h *DocumentHandler) UpdateLinks(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req UpdateLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	view, err := h.docService.UpdateLinks(c.Request.Context(), currentUserID(c), chatbotID, req.Links)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

// CrawlRequest 是整站抓取或 sitemap 抓取的入口地址。
type CrawlRequest struct {
	URL string `json:"url" binding:"required"`
}

// CrawlSingleRequest 是逐页抓取的地址列表。
type CrawlSingleRequest struct {
	URLs []string `json:"urls"`
}

// Crawl 抓取整个站点，返回待训练的链接条目。
func (h *DocumentHandler) Crawl(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req CrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	links, err := h.crawlService.Crawl(c.Request.Context(), currentUserID(c), chatbotID, req.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, links)
}

// CrawlSingle 逐个抓取给定页面。
func (h *DocumentHandler) CrawlSingle(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req CrawlSingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	links, err := h.crawlService.CrawlSingle(c.Request.Context(), currentUserID(c), chatbotID, req.URLs)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, links)
}

// CrawlSitemap 抓取 sitemap 中列出的全部页面。
func (h *DocumentHandler) CrawlSitemap(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req CrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	links, err := h.crawlService.CrawlSitemap(c.Request.Context(), currentUserID(c), chatbotID, req.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, links)
}
