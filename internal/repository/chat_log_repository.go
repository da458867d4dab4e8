package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatfabrica-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrThreadOwnedElsewhere 表示 thread 已经记录在另一个聊天机器人名下。
var ErrThreadOwnedElsewhere = errors.New("thread belongs to another chatbot")

// ChatLogRepository 定义聊天记录的 upsert 与查询。
type ChatLogRepository interface {
	// AppendExchange 按 threadID upsert 一行记录并追加消息，created 表示本次新建了记录。
	AppendExchange(ctx context.Context, threadID string, chatbotID uint, messages []model.ChatLogMessage) (log *model.ChatLog, created bool, err error)
	ListByChatbot(ctx context.Context, chatbotID uint) ([]model.ChatLog, error)
	FindForChatbot(ctx context.Context, logID, chatbotID uint) (*model.ChatLog, error)
	DeleteByChatbot(ctx context.Context, chatbotID uint) error
}

type chatLogRepository struct {
	db *gorm.DB
}

// NewChatLogRepository 创建一个新的 ChatLogRepository 实例。
func NewChatLogRepository(db *gorm.DB) ChatLogRepository {
	return &chatLogRepository{db: db}
}

func orderedMessages(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func (r *chatLogRepository) AppendExchange(ctx context.Context, threadID string, chatbotID uint, messages []model.ChatLogMessage) (*model.ChatLog, bool, error) {
	var (
		entry   model.ChatLog
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			DoNothing: true,
		}).Create(&model.ChatLog{ThreadID: threadID, ChatbotID: chatbotID})
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1

		if err := tx.Where("thread_id = ?", threadID).First(&entry).Error; err != nil {
			return err
		}
		if entry.ChatbotID != chatbotID {
			return fmt.Errorf("%w: thread %s", ErrThreadOwnedElsewhere, threadID)
		}

		now := time.Now()
		rows := make([]model.ChatLogMessage, 0, len(messages))
		for _, m := range messages {
			rows = append(rows, model.ChatLogMessage{ChatLogID: entry.ID, Role: m.Role, Content: m.Content, CreatedAt: now})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		if !created {
			if err := tx.Model(&entry).UpdateColumn("updated_at", now).Error; err != nil {
				return err
			}
		}
		return tx.Preload("Messages", orderedMessages).First(&entry, entry.ID).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &entry, created, nil
}

// ListByChatbot 按创建时间倒序返回聊天机器人的全部记录。
func (r *chatLogRepository) ListByChatbot(ctx context.Context, chatbotID uint) ([]model.ChatLog, error) {
	var logs []model.ChatLog
	err := r.db.WithContext(ctx).
		Preload("Messages", orderedMessages).
		Where("chatbot_id = ?", chatbotID).
		Order("created_at DESC, id DESC").
		Find(&logs).Error
	return logs, err
}

func (r *chatLogRepository) FindForChatbot(ctx context.Context, logID, chatbotID uint) (*model.ChatLog, error) {
	var entry model.ChatLog
	err := r.db.WithContext(ctx).
		Preload("Messages", orderedMessages).
		Where("id = ? AND chatbot_id = ?", logID, chatbotID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *chatLogRepository) DeleteByChatbot(ctx context.Context, chatbotID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&model.ChatLog{}).Select("id").Where("chatbot_id = ?", chatbotID)
		if err := tx.Where("chat_log_id IN (?)", sub).Delete(&model.ChatLogMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("chatbot_id = ?", chatbotID).Delete(&model.ChatLog{}).Error
	})
}
