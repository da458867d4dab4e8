// Package testutil 提供仓储与服务测试共用的内存数据库和数据构造函数。
package testutil

import (
	"fmt"
	"testing"
	"time"

	"chatfabrica-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// DB 打开一个独立的内存 SQLite 库并迁移全部模型。
// 连接数限制为 1，后台 goroutine 的写入会排队而不是触发表锁错误。
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(model.All()...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedUser 创建一个用户，credits 同时作为总额度和剩余额度。
func SeedUser(tb testing.TB, db *gorm.DB, email string, credits int, sealedKey string) *model.User {
	tb.Helper()
	u := &model.User{
		Email:                email,
		Name:                 "Owner",
		OpenAIKey:            sealedKey,
		TotalCredits:         credits,
		CustomMessageCredits: credits,
	}
	if err := db.Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

// GrantOptions 描述一个待创建的额度窗口。
type GrantOptions struct {
	Free       bool
	Extra      bool
	Credits    int
	Chatbots   int
	Characters int
	ExpiresIn  time.Duration
}

// SeedGrant 创建套餐模板与对应的额度窗口。
func SeedGrant(tb testing.TB, db *gorm.DB, userID uint, opts GrantOptions) *model.PlanGrant {
	tb.Helper()
	plan := &model.Plan{
		Name:                 "plan-" + uuid.NewString()[:8],
		IsFree:               opts.Free,
		IsExtraPacket:        opts.Extra,
		MessageCredits:       opts.Credits,
		ChatbotCount:         opts.Chatbots,
		CharactersPerChatbot: opts.Characters,
	}
	if err := db.Create(plan).Error; err != nil {
		tb.Fatalf("seed plan: %v", err)
	}
	expires := opts.ExpiresIn
	if expires == 0 {
		expires = 30 * 24 * time.Hour
	}
	g := &model.PlanGrant{
		UserID:                      userID,
		PlanID:                      plan.ID,
		InitialMessageCredits:       opts.Credits,
		CurrentMessageCredits:       opts.Credits,
		InitialChatbotCount:         opts.Chatbots,
		CurrentChatbotCount:         opts.Chatbots,
		InitialCharactersPerChatbot: opts.Characters,
		ExpiresAt:                   time.Now().Add(expires),
		Status:                      model.GrantStatusActive,
	}
	if err := db.Create(g).Error; err != nil {
		tb.Fatalf("seed grant: %v", err)
	}
	g.Plan = *plan
	return g
}

// SeedChatbot 创建一个空目录的聊天机器人。
func SeedChatbot(tb testing.TB, db *gorm.DB, userID uint, assistantID, modelName string) *model.Chatbot {
	tb.Helper()
	bot := &model.Chatbot{
		UserID:      userID,
		AssistantID: assistantID,
		Name:        "Untitled 1",
		Model:       modelName,
		Temperature: 0.2,
		Visibility:  model.VisibilityPrivate,
		Status:      model.ChatbotStatusActive,
	}
	if err := db.Create(bot).Error; err != nil {
		tb.Fatalf("seed chatbot: %v", err)
	}
	return bot
}
