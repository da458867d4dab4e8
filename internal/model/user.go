// Package model 包含了应用的数据模型定义。
package model

import "time"

// User 是平台用户。OpenAIKey 保存的是密文，只能经由 secret 包解密。
type User struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Email                string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name                 string    `gorm:"type:varchar(255)" json:"name"`
	Password             string    `gorm:"type:varchar(255)" json:"-"`
	OpenAIKey            string    `gorm:"column:openai_key;type:text" json:"-"`
	TotalCredits         int       `gorm:"not null;default:0" json:"totalCredits"`
	CustomMessageCredits int       `gorm:"not null;default:0" json:"customMessageCredits"`
	EightyPercentMail    bool      `gorm:"not null;default:false" json:"-"`
	NinetyPercentMail    bool      `gorm:"not null;default:false" json:"-"`
	CreditOverMail       bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// HasAPIKey 判断用户是否已经保存了外部 AI 服务的密钥。
func (u *User) HasAPIKey() bool {
	return u.OpenAIKey != ""
}
