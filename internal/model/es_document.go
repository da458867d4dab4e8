package model

import "time"

// ExchangeDocument 是写入 Elasticsearch 的一问一答，用于聊天记录检索。
type ExchangeDocument struct {
	ExchangeID string    `json:"exchange_id"`
	ThreadID   string    `json:"thread_id"`
	ChatbotID  uint      `json:"chatbot_id"`
	UserID     uint      `json:"user_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	CreatedAt  time.Time `json:"created_at"`
}
