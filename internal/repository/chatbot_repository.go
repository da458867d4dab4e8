package repository

import (
	"context"

	"chatfabrica-go/internal/model"

	"gorm.io/gorm"
)

var catalogColumns = []string{
	"files", "training_datas", "last_train_at",
	"text_document_id", "text_name", "text_body", "text_character_count",
}

// ChatbotRepository 定义聊天机器人及其知识目录的持久化操作。
type ChatbotRepository interface {
	Create(ctx context.Context, bot *model.Chatbot) error
	FindByID(ctx context.Context, chatbotID uint) (*model.Chatbot, error)
	FindByOwner(ctx context.Context, userID, chatbotID uint) (*model.Chatbot, error)
	ListByOwner(ctx context.Context, userID uint) ([]model.Chatbot, error)
	UpdateSettings(ctx context.Context, bot *model.Chatbot) error
	// SaveCatalog 用一条 UPDATE 写入文件、文本槽位、链接与训练时间。
	SaveCatalog(ctx context.Context, bot *model.Chatbot) error
	UpdateIcon(ctx context.Context, chatbotID uint, iconKey string) error
	Delete(ctx context.Context, chatbotID uint) error
	CountByOwner(ctx context.Context, userID uint) (int64, error)
	// OwnerReferences 返回 ids 中仍被该用户其他聊天机器人目录引用的文档 ID。
	OwnerReferences(ctx context.Context, userID, exceptChatbotID uint, ids []string) (map[string]bool, error)
}

type chatbotRepository struct {
	db *gorm.DB
}

// NewChatbotRepository 创建一个新的 ChatbotRepository 实例。
func NewChatbotRepository(db *gorm.DB) ChatbotRepository {
	return &chatbotRepository{db: db}
}

func (r *chatbotRepository) Create(ctx context.Context, bot *model.Chatbot) error {
	return r.db.WithContext(ctx).Create(bot).Error
}

func (r *chatbotRepository) FindByID(ctx context.Context, chatbotID uint) (*model.Chatbot, error) {
	var bot model.Chatbot
	if err := r.db.WithContext(ctx).First(&bot, chatbotID).Error; err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *chatbotRepository) FindByOwner(ctx context.Context, userID, chatbotID uint) (*model.Chatbot, error) {
	var bot model.Chatbot
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatbotID, userID).
		First(&bot).Error
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *chatbotRepository) ListByOwner(ctx context.Context, userID uint) ([]model.Chatbot, error) {
	var bots []model.Chatbot
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&bots).Error
	return bots, err
}

func (r *chatbotRepository) UpdateSettings(ctx context.Context, bot *model.Chatbot) error {
	return r.db.WithContext(ctx).Model(bot).
		Select("name", "instructions", "model", "temperature", "visibility").
		Updates(bot).Error
}

func (r *chatbotRepository) SaveCatalog(ctx context.Context, bot *model.Chatbot) error {
	return r.db.WithContext(ctx).Model(bot).
		Select(catalogColumns).
		Updates(bot).Error
}

func (r *chatbotRepository) UpdateIcon(ctx context.Context, chatbotID uint, iconKey string) error {
	return r.db.WithContext(ctx).Model(&model.Chatbot{}).
		Where("id = ?", chatbotID).
		UpdateColumn("icon_key", iconKey).Error
}

func (r *chatbotRepository) Delete(ctx context.Context, chatbotID uint) error {
	return r.db.WithContext(ctx).Delete(&model.Chatbot{}, chatbotID).Error
}

func (r *chatbotRepository) CountByOwner(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Chatbot{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (r *chatbotRepository) OwnerReferences(ctx context.Context, userID, exceptChatbotID uint, ids []string) (map[string]bool, error) {
	var bots []model.Chatbot
	err := r.db.WithContext(ctx).
		Select(append([]string{"id"}, catalogColumns...)).
		Where("user_id = ? AND id <> ?", userID, exceptChatbotID).
		Find(&bots).Error
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	refs := make(map[string]bool)
	for i := range bots {
		for _, id := range bots[i].DocumentIDs() {
			if wanted[id] {
				refs[id] = true
			}
		}
	}
	return refs, nil
}
