package handler

import (
	"net/http"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/llm"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// noCreditsReply 是额度耗尽时小组件展示的助手气泡。
const noCreditsReply = "This chatbot is out of message credits right now. Please contact the site owner."

// ConversationHandler 负责消息接口，控制台与 iframe 小组件共用同一个会话流程。
type ConversationHandler struct {
	conversationService service.ConversationService
	chatbotService      service.ChatbotService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(conversationService service.ConversationService, chatbotService service.ChatbotService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		chatbotService:      chatbotService,
	}
}

// MessageRequest 是消息接口的请求体，threadId 为空时开启新会话。
type MessageRequest struct {
	AssistantID string `json:"assistantId" binding:"required"`
	Message     string `json:"message"`
	ThreadID    string `json:"threadId"`
}

func (r MessageRequest) toService(chatbotID uint) service.MessageRequest {
	return service.MessageRequest{
		AssistantID: r.AssistantID,
		ChatbotID:   chatbotID,
		Message:     r.Message,
		ThreadID:    r.ThreadID,
	}
}

// SendMessage 处理控制台里的测试对话，只允许聊天机器人的所有者调用。
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	if _, err := h.chatbotService.Get(c.Request.Context(), currentUserID(c), chatbotID); err != nil {
		respondError(c, err)
		return
	}

	result, err := h.conversationService.Send(c.Request.Context(), req.toService(chatbotID), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, gin.H{"threadId": result.ThreadID, "response": result.Response})
}

// SendPublicMessage 处理 iframe 小组件的消息。额度不足时返回一个助手气泡，而不是原始错误。
func (h *ConversationHandler) SendPublicMessage(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}

	result, err := h.conversationService.Send(c.Request.Context(), req.toService(chatbotID), nil)
	if service.KindOf(err) == service.KindInsufficientCredit {
		log.Warnw("[Conversation] 小组件额度不足", "chatbotId", chatbotID)
		c.JSON(http.StatusPaymentRequired, gin.H{
			"code":     http.StatusPaymentRequired,
			"message":  service.ErrInsufficientCredit.Message,
			"status":   "error",
			"threadId": req.ThreadID,
			"response": []llm.Message{noCreditsBubble(req.ThreadID)},
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, gin.H{"threadId": result.ThreadID, "response": result.Response})
}

func noCreditsBubble(threadID string) llm.Message {
	return llm.Message{
		ThreadID: threadID,
		Role:     model.RoleAssistant,
		Content: []llm.MessageContent{
			{Type: "text", Text: &llm.MessageText{Value: noCreditsReply}},
		},
	}
}
