package model

import "time"

// Analytics 是每个用户一行的使用量累计。
type Analytics struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	UserID          uint      `gorm:"uniqueIndex;not null" json:"userId"`
	TotalCharacters int64     `gorm:"not null;default:0" json:"totalCharacters"`
	TotalTrain      int       `gorm:"not null;default:0" json:"totalTrain"`
	TotalMessages   int       `gorm:"not null;default:0" json:"totalMessages"`
	TotalChatbots   int       `gorm:"not null;default:0" json:"totalChatbots"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (Analytics) TableName() string {
	return "analytics"
}

// UsageDelta 描述一次累加，零值字段不变。
type UsageDelta struct {
	Characters int64 `json:"characters,omitempty"`
	Trains     int   `json:"trains,omitempty"`
	Messages   int   `json:"messages,omitempty"`
	Chatbots   int   `json:"chatbots,omitempty"`
}
