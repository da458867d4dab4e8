package service

import (
	"context"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/log"
)

// PlanService 负责免费套餐的按月续期，由定时任务调用。
type PlanService interface {
	// ResetExpiredFreeGrants 返回本次续期的窗口数。
	ResetExpiredFreeGrants(ctx context.Context, now time.Time) (int, error)
}

type planService struct {
	userRepo  repository.UserRepository
	grantRepo repository.PlanGrantRepository
	cfg       config.PlansConfig
}

// NewPlanService 创建一个新的 PlanService 实例。
func NewPlanService(userRepo repository.UserRepository, grantRepo repository.PlanGrantRepository, cfg config.PlansConfig) PlanService {
	return &planService{userRepo: userRepo, grantRepo: grantRepo, cfg: cfg}
}

// ResetExpiredFreeGrants 把过期的免费窗口补满并顺延一个周期，用户汇总额度同步增加补充的部分。
// 提醒标志不在这里重置。
func (s *planService) ResetExpiredFreeGrants(ctx context.Context, now time.Time) (int, error) {
	grants, err := s.grantRepo.ListExpiredFree(ctx, now)
	if err != nil {
		return 0, internal("PlanService.ResetExpiredFreeGrants", err)
	}

	renewed := 0
	for _, g := range grants {
		credits := g.Plan.MessageCredits
		if err := s.grantRepo.Refill(ctx, g.ID, credits, now.Add(s.cfg.FreeWindow)); err != nil {
			log.Errorw("[PlanService] 续期免费窗口失败", "grantId", g.ID, "error", err)
			continue
		}
		if delta := credits - g.CurrentMessageCredits; delta != 0 {
			if err := s.userRepo.AddCredits(ctx, g.UserID, delta); err != nil {
				log.Errorw("[PlanService] 更新用户额度汇总失败", "userId", g.UserID, "error", err)
			}
		}
		renewed++
	}
	log.Infof("[PlanService] 续期了 %d 个免费窗口", renewed)
	return renewed, nil
}
