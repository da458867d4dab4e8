package handler

import (
	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责聊天机器人图标的上传与删除。
type UploadHandler struct {
	storageService service.StorageService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(storageService service.StorageService) *UploadHandler {
	return &UploadHandler{storageService: storageService}
}

// UploadIcon 处理图标上传，表单字段为 icon。
func (h *UploadHandler) UploadIcon(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("icon")
	if err != nil {
		badRequest(c, "Icon is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Error("UploadIcon: failed to open multipart file", err)
		badRequest(c, msgInvalidData)
		return
	}
	defer file.Close()

	iconURL, err := h.storageService.UploadIcon(c.Request.Context(), currentUserID(c), chatbotID,
		fileHeader.Filename, file, fileHeader.Size, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"iconUrl": iconURL})
}

// RemoveIcon 删除聊天机器人的图标。
func (h *UploadHandler) RemoveIcon(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	if err := h.storageService.RemoveIcon(c.Request.Context(), currentUserID(c), chatbotID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}
