package handler

import (
	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatbotHandler 负责聊天机器人的增删改查。
type ChatbotHandler struct {
	chatbotService service.ChatbotService
}

// NewChatbotHandler 创建一个新的 ChatbotHandler 实例。
func NewChatbotHandler(chatbotService service.ChatbotService) *ChatbotHandler {
	return &ChatbotHandler{chatbotService: chatbotService}
}

// Create 新建一个空的聊天机器人，占用一个套餐名额。
func (h *ChatbotHandler) Create(c *gin.Context) {
	userID := currentUserID(c)
	view, err := h.chatbotService.Create(c.Request.Context(), userID)
	if err != nil {
		log.Warnf("CreateChatbot: user %d failed, error: %v", userID, err)
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

// List 返回当前用户的全部聊天机器人。
func (h *ChatbotHandler) List(c *gin.Context) {
	views, err := h.chatbotService.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, views)
}

// Get 返回单个聊天机器人及其知识条目。
func (h *ChatbotHandler) Get(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	view, err := h.chatbotService.Get(c.Request.Context(), currentUserID(c), chatbotID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

// Update 修改名称、指令、模型、温度或可见性，未提供的字段保持不变。
func (h *ChatbotHandler) Update(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var fields service.ChatbotUpdate
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	view, err := h.chatbotService.Update(c.Request.Context(), currentUserID(c), chatbotID, fields)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

// Delete 删除聊天机器人，外部文档与助手尽力清理。
func (h *ChatbotHandler) Delete(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	if err := h.chatbotService.Delete(c.Request.Context(), currentUserID(c), chatbotID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// GetPublic 返回 iframe 小组件需要的公开信息，无需登录。
func (h *ChatbotHandler) GetPublic(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	public, err := h.chatbotService.GetPublic(c.Request.Context(), chatbotID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, public)
}
