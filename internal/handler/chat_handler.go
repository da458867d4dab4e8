package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 小组件嵌在任意站点上
		},
	}
)

// ChatHandler 负责 iframe 小组件的 WebSocket 连接：同一连接上可以连续发消息，
// 每一步状态变化都会推送给前端。
type ChatHandler struct {
	conversationService service.ConversationService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(conversationService service.ConversationService) *ChatHandler {
	return &ChatHandler{conversationService: conversationService}
}

// wsRequest 是客户端发来的一条消息。
type wsRequest struct {
	AssistantID string `json:"assistantId"`
	Message     string `json:"message"`
	ThreadID    string `json:"threadId"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	chatbotID, ok := pathID(c, "chatbotId")
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，chatbot: %d", chatbotID)

	// 连接内记住最近的 threadId，客户端不带时沿用
	var threadID string
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeFrame(conn, gin.H{"type": "error", "message": msgInvalidData})
			continue
		}
		if req.ThreadID == "" {
			req.ThreadID = threadID
		}

		observe := func(state service.SessionState) {
			writeFrame(conn, gin.H{"type": "state", "state": state})
		}
		result, err := h.conversationService.Send(c.Request.Context(), service.MessageRequest{
			AssistantID: req.AssistantID,
			ChatbotID:   chatbotID,
			Message:     req.Message,
			ThreadID:    req.ThreadID,
		}, observe)
		if err != nil {
			log.Warnf("WebSocket 消息处理失败, chatbot: %d, error: %v", chatbotID, err)
			writeFrame(conn, gin.H{
				"type":    "error",
				"code":    statusFor(service.KindOf(err)),
				"message": errorMessage(err),
			})
		} else {
			threadID = result.ThreadID
			writeFrame(conn, gin.H{"type": "response", "threadId": result.ThreadID, "response": result.Response})
		}
		writeFrame(conn, gin.H{"type": "completion", "status": "finished", "timestamp": time.Now().UnixMilli()})
	}
}

// writeFrame 写出一帧 JSON，失败只记录日志，下一次读取会发现连接已断开。
func writeFrame(conn *websocket.Conn, frame gin.H) {
	if err := conn.WriteJSON(frame); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}
