package handler

import (
	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatLogHandler 负责聊天记录的列表、详情与全文检索。
type ChatLogHandler struct {
	chatLogService service.ChatLogService
}

// NewChatLogHandler 创建一个新的 ChatLogHandler 实例。
func NewChatLogHandler(chatLogService service.ChatLogService) *ChatLogHandler {
	return &ChatLogHandler{chatLogService: chatLogService}
}

// List 按时间倒序返回聊天机器人的全部会话。
func (h *ChatLogHandler) List(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	logs, err := h.chatLogService.List(c.Request.Context(), currentUserID(c), chatbotID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, logs)
}

// Get 返回一条会话记录，不属于该聊天机器人时返回 404。
func (h *ChatLogHandler) Get(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	logID, ok := pathID(c, "logId")
	if !ok {
		return
	}
	entry, err := h.chatLogService.Get(c.Request.Context(), currentUserID(c), chatbotID, logID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, entry)
}

// Search 按关键词检索已索引的问答。
func (h *ChatLogHandler) Search(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	query := c.Query("q")
	log.Infof("[ChatLogHandler] 收到检索请求, chatbot: %d, query: %s", chatbotID, query)

	results, err := h.chatLogService.Search(c.Request.Context(), currentUserID(c), chatbotID, query)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[ChatLogHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	respondOK(c, results)
}
