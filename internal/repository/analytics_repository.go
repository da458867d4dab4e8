package repository

import (
	"context"
	"errors"
	"time"

	"chatfabrica-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnalyticsRepository 维护每个用户的使用量累计。
type AnalyticsRepository interface {
	Increment(ctx context.Context, userID uint, delta model.UsageDelta) error
	FindByUser(ctx context.Context, userID uint) (*model.Analytics, error)
}

type analyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository 创建一个新的 AnalyticsRepository 实例。
func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

// Increment 以 upsert 方式累加，首条记录直接以 delta 作为初值。
func (r *analyticsRepository) Increment(ctx context.Context, userID uint, delta model.UsageDelta) error {
	row := model.Analytics{
		UserID:          userID,
		TotalCharacters: delta.Characters,
		TotalTrain:      delta.Trains,
		TotalMessages:   delta.Messages,
		TotalChatbots:   delta.Chatbots,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_characters": gorm.Expr("total_characters + ?", delta.Characters),
			"total_train":      gorm.Expr("total_train + ?", delta.Trains),
			"total_messages":   gorm.Expr("total_messages + ?", delta.Messages),
			"total_chatbots":   gorm.Expr("total_chatbots + ?", delta.Chatbots),
			"updated_at":       time.Now(),
		}),
	}).Create(&row).Error
}

// FindByUser 没有记录时返回全零的累计而不是错误。
func (r *analyticsRepository) FindByUser(ctx context.Context, userID uint) (*model.Analytics, error) {
	var row model.Analytics
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.Analytics{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
