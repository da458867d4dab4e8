package repository

import (
	"context"
	"errors"
	"time"

	"chatfabrica-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientCredit 表示有效窗口的剩余额度之和小于本次消耗。
	ErrInsufficientCredit = errors.New("insufficient message credits")
	// ErrNoChatbotSlot 表示所有有效窗口的聊天机器人名额都已用完。
	ErrNoChatbotSlot = errors.New("no chatbot slot left")

	errConcurrentUpdate = errors.New("grant changed concurrently")
)

const maxConsumeAttempts = 3

// PlanGrantRepository 封装额度窗口的读取与原子扣减。
type PlanGrantRepository interface {
	ListActive(ctx context.Context, userID uint, now time.Time) ([]model.PlanGrant, error)
	LatestBaseGrant(ctx context.Context, userID uint, now time.Time) (*model.PlanGrant, error)
	SumActiveCredits(ctx context.Context, userID uint, now time.Time) (int, error)
	ConsumeCredits(ctx context.Context, userID uint, cost int, now time.Time) (uint, error)
	TakeChatbotSlot(ctx context.Context, userID uint, now time.Time) (uint, error)
	ReturnChatbotSlot(ctx context.Context, userID uint) error
	ListExpiredFree(ctx context.Context, now time.Time) ([]model.PlanGrant, error)
	Refill(ctx context.Context, grantID uint, credits int, expiresAt time.Time) error
}

type planGrantRepository struct {
	db *gorm.DB
}

// NewPlanGrantRepository 创建一个新的 PlanGrantRepository 实例。
func NewPlanGrantRepository(db *gorm.DB) PlanGrantRepository {
	return &planGrantRepository{db: db}
}

func activeScope(userID uint, now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND status = ? AND expires_at >= ?", userID, model.GrantStatusActive, now)
	}
}

// ListActive 按到期时间升序返回全部有效窗口（含套餐信息）。
func (r *planGrantRepository) ListActive(ctx context.Context, userID uint, now time.Time) ([]model.PlanGrant, error) {
	var grants []model.PlanGrant
	err := r.db.WithContext(ctx).Preload("Plan").
		Scopes(activeScope(userID, now)).
		Order("expires_at ASC, id ASC").
		Find(&grants).Error
	return grants, err
}

// LatestBaseGrant 返回最新的非加油包有效窗口，它决定字符上限与免费/付费文案。
func (r *planGrantRepository) LatestBaseGrant(ctx context.Context, userID uint, now time.Time) (*model.PlanGrant, error) {
	var grant model.PlanGrant
	err := r.db.WithContext(ctx).Preload("Plan").
		Joins("JOIN plans ON plans.id = plan_grants.plan_id").
		Where("plan_grants.user_id = ? AND plan_grants.status = ? AND plan_grants.expires_at >= ? AND plans.is_extra_packet = ?",
			userID, model.GrantStatusActive, now, false).
		Order("plan_grants.created_at DESC, plan_grants.id DESC").
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *planGrantRepository) SumActiveCredits(ctx context.Context, userID uint, now time.Time) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.PlanGrant{}).
		Scopes(activeScope(userID, now)).
		Select("COALESCE(SUM(current_message_credits), 0)").
		Scan(&total).Error
	return int(total), err
}

// ConsumeCredits 在一个事务里按到期时间升序扣减 cost 个额度，并同步扣减用户汇总。
// 每个窗口的扣减都是条件更新（余额足够才生效），被并发修改时整体回滚重试。
// 返回第一个被扣减的窗口 ID。
func (r *planGrantRepository) ConsumeCredits(ctx context.Context, userID uint, cost int, now time.Time) (uint, error) {
	var err error
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		var first uint
		first, err = r.consumeOnce(ctx, userID, cost, now)
		if !errors.Is(err, errConcurrentUpdate) {
			return first, err
		}
	}
	return 0, err
}

func (r *planGrantRepository) consumeOnce(ctx context.Context, userID uint, cost int, now time.Time) (uint, error) {
	var first uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var grants []model.PlanGrant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Scopes(activeScope(userID, now)).
			Where("current_message_credits > 0").
			Order("expires_at ASC, id ASC").
			Find(&grants).Error; err != nil {
			return err
		}

		available := 0
		for _, g := range grants {
			available += g.CurrentMessageCredits
		}
		if available < cost {
			return ErrInsufficientCredit
		}

		remaining := cost
		for _, g := range grants {
			if remaining == 0 {
				break
			}
			take := min(remaining, g.CurrentMessageCredits)
			res := tx.Model(&model.PlanGrant{}).
				Where("id = ? AND current_message_credits >= ?", g.ID, take).
				UpdateColumn("current_message_credits", gorm.Expr("current_message_credits - ?", take))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errConcurrentUpdate
			}
			if first == 0 {
				first = g.ID
			}
			remaining -= take
		}

		return tx.Model(&model.User{}).
			Where("id = ?", userID).
			UpdateColumn("custom_message_credits",
				gorm.Expr("CASE WHEN custom_message_credits > ? THEN custom_message_credits - ? ELSE 0 END", cost, cost)).Error
	})
	if err != nil {
		return 0, err
	}
	return first, nil
}

// TakeChatbotSlot 从最早到期且仍有名额的窗口中占用一个聊天机器人名额。
func (r *planGrantRepository) TakeChatbotSlot(ctx context.Context, userID uint, now time.Time) (uint, error) {
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		var grant model.PlanGrant
		err := r.db.WithContext(ctx).
			Scopes(activeScope(userID, now)).
			Where("current_chatbot_count > 0").
			Order("expires_at ASC, id ASC").
			First(&grant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNoChatbotSlot
		}
		if err != nil {
			return 0, err
		}
		res := r.db.WithContext(ctx).Model(&model.PlanGrant{}).
			Where("id = ? AND current_chatbot_count > 0", grant.ID).
			UpdateColumn("current_chatbot_count", gorm.Expr("current_chatbot_count - 1"))
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return grant.ID, nil
		}
	}
	return 0, ErrNoChatbotSlot
}

// ReturnChatbotSlot 把一个名额还给某个已被占用过名额的窗口，没有这样的窗口时什么也不做。
func (r *planGrantRepository) ReturnChatbotSlot(ctx context.Context, userID uint) error {
	var grant model.PlanGrant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND current_chatbot_count < initial_chatbot_count", userID).
		Order("expires_at DESC, id DESC").
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&model.PlanGrant{}).
		Where("id = ? AND current_chatbot_count < initial_chatbot_count", grant.ID).
		UpdateColumn("current_chatbot_count", gorm.Expr("current_chatbot_count + 1")).Error
}

// ListExpiredFree 返回已过期但仍处于 active 状态的免费窗口。
func (r *planGrantRepository) ListExpiredFree(ctx context.Context, now time.Time) ([]model.PlanGrant, error) {
	var grants []model.PlanGrant
	err := r.db.WithContext(ctx).Preload("Plan").
		Joins("JOIN plans ON plans.id = plan_grants.plan_id").
		Where("plans.is_free = ? AND plan_grants.status = ? AND plan_grants.expires_at < ?", true, model.GrantStatusActive, now).
		Find(&grants).Error
	return grants, err
}

func (r *planGrantRepository) Refill(ctx context.Context, grantID uint, credits int, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.PlanGrant{}).
		Where("id = ?", grantID).
		UpdateColumns(map[string]interface{}{
			"current_message_credits": credits,
			"expires_at":              expiresAt,
		}).Error
}
