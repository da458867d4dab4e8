// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"chatfabrica-go/internal/model"

	"gorm.io/gorm"
)

// NotificationFlag 是 User 上的一次性额度提醒标志列名。
type NotificationFlag string

const (
	FlagEightyPercent NotificationFlag = "eighty_percent_mail"
	FlagNinetyPercent NotificationFlag = "ninety_percent_mail"
	FlagCreditOver    NotificationFlag = "credit_over_mail"
)

// UserRepository 接口定义了用户数据的持久化操作。
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, userID uint) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateAPIKey(ctx context.Context, userID uint, sealedKey string) error
	// MarkNotified 把提醒标志从 false 置为 true，只有真正置位的那次调用返回 true。
	MarkNotified(ctx context.Context, userID uint, flag NotificationFlag) (bool, error)
	AddCredits(ctx context.Context, userID uint, delta int) error
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByID 根据用户 ID 查找用户，不存在时返回 gorm.ErrRecordNotFound。
func (r *userRepository) FindByID(ctx context.Context, userID uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) UpdateAPIKey(ctx context.Context, userID uint, sealedKey string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("openai_key", sealedKey).Error
}

func (r *userRepository) MarkNotified(ctx context.Context, userID uint, flag NotificationFlag) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND "+string(flag)+" = ?", userID, false).
		UpdateColumn(string(flag), true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddCredits 调整用户的剩余额度汇总，结果不低于 0。
func (r *userRepository) AddCredits(ctx context.Context, userID uint, delta int) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("custom_message_credits",
			gorm.Expr("CASE WHEN custom_message_credits + ? > 0 THEN custom_message_credits + ? ELSE 0 END", delta, delta)).Error
}
