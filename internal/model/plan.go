package model

import "time"

const (
	GrantStatusActive   = "active"
	GrantStatusInactive = "inactive"
)

// Plan 是可购买或赠送的套餐模板。
type Plan struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Name                 string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	IsFree               bool      `gorm:"not null;default:false" json:"isFree"`
	IsExtraPacket        bool      `gorm:"not null;default:false" json:"isExtraPacket"`
	MessageCredits       int       `gorm:"not null" json:"messageCredits"`
	ChatbotCount         int       `gorm:"not null" json:"chatbotCount"`
	CharactersPerChatbot int       `gorm:"not null" json:"charactersPerChatbot"`
	CreatedAt            time.Time `json:"createdAt"`
}

func (Plan) TableName() string {
	return "plans"
}

// PlanGrant 是用户的一个额度窗口（免费、订阅或加油包）。
// 多个窗口可同时生效，按 ExpiresAt 升序消耗。
type PlanGrant struct {
	ID                          uint      `gorm:"primaryKey" json:"id"`
	UserID                      uint      `gorm:"index;not null" json:"userId"`
	PlanID                      uint      `gorm:"not null" json:"planId"`
	Plan                        Plan      `gorm:"foreignKey:PlanID" json:"plan"`
	InitialMessageCredits       int       `gorm:"not null" json:"initialMessageCredits"`
	CurrentMessageCredits       int       `gorm:"not null" json:"currentMessageCredits"`
	InitialChatbotCount         int       `gorm:"not null" json:"initialChatbotCount"`
	CurrentChatbotCount         int       `gorm:"not null" json:"currentChatbotCount"`
	InitialCharactersPerChatbot int       `gorm:"not null" json:"initialCharactersPerChatbot"`
	ExpiresAt                   time.Time `gorm:"index;not null" json:"expiresAt"`
	Status                      string    `gorm:"type:varchar(20);index;not null;default:active" json:"status"`
	SubscriptionID              string    `gorm:"type:varchar(128)" json:"subscriptionId,omitempty"`
	CreatedAt                   time.Time `json:"createdAt"`
	UpdatedAt                   time.Time `json:"updatedAt"`
}

func (PlanGrant) TableName() string {
	return "plan_grants"
}

// Active 判断窗口在 now 时刻是否仍然有效（未停用且未过期）。
func (g *PlanGrant) Active(now time.Time) bool {
	return g.Status == GrantStatusActive && !g.ExpiresAt.Before(now)
}

// IsFree 需要预加载 Plan。
func (g *PlanGrant) IsFree() bool {
	return g.Plan.IsFree
}
