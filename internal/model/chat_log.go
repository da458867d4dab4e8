package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatLog 每个外部会话 thread 一行，消息只追加。
type ChatLog struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	ThreadID  string           `gorm:"type:varchar(128);uniqueIndex;not null" json:"threadId"`
	ChatbotID uint             `gorm:"index;not null" json:"chatbotId"`
	Messages  []ChatLogMessage `gorm:"foreignKey:ChatLogID;constraint:OnDelete:CASCADE" json:"messages"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (ChatLog) TableName() string {
	return "chat_logs"
}

// ChatLogMessage 按自增 ID 保持追加顺序。
type ChatLogMessage struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	ChatLogID uint      `gorm:"index;not null" json:"-"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (ChatLogMessage) TableName() string {
	return "chat_log_messages"
}
