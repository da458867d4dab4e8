package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/mailer"
	"chatfabrica-go/pkg/tasks"
)

// CreditService 是消息额度账本：查询剩余额度、扣减额度并在跨过阈值时发提醒。
type CreditService interface {
	RemainingCredits(ctx context.Context, userID uint) (int, error)
	// ReserveAndConsume 余额不足时返回 ErrInsufficientCredit 且不改动任何窗口，成功时返回首个被扣减的窗口 ID。
	ReserveAndConsume(ctx context.Context, userID uint, cost int) (uint, error)
}

type creditService struct {
	userRepo   repository.UserRepository
	grantRepo  repository.PlanGrantRepository
	dispatcher tasks.Dispatcher
	now        func() time.Time
}

// NewCreditService 创建一个新的 CreditService 实例。
func NewCreditService(userRepo repository.UserRepository, grantRepo repository.PlanGrantRepository, dispatcher tasks.Dispatcher) CreditService {
	return &creditService{
		userRepo:   userRepo,
		grantRepo:  grantRepo,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

func (s *creditService) RemainingCredits(ctx context.Context, userID uint) (int, error) {
	return s.grantRepo.SumActiveCredits(ctx, userID, s.now())
}

func (s *creditService) ReserveAndConsume(ctx context.Context, userID uint, cost int) (uint, error) {
	now := s.now()
	remaining, err := s.grantRepo.SumActiveCredits(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	if remaining < cost {
		return 0, ErrInsufficientCredit
	}

	grantID, err := s.grantRepo.ConsumeCredits(ctx, userID, cost, now)
	if errors.Is(err, repository.ErrInsufficientCredit) {
		return 0, ErrInsufficientCredit
	}
	if err != nil {
		return 0, err
	}
	log.Infof("[CreditService] 用户 %d 消耗 %d 额度, 窗口 %d", userID, cost, grantID)

	s.checkThresholds(ctx, userID)
	return grantID, nil
}

// checkThresholds 剩余额度降到总额度的 20%、10% 和 0 时各发一次提醒。
// 一次只发最严重的那一档，标志位由计费回调在新窗口到来时重置。
func (s *creditService) checkThresholds(ctx context.Context, userID uint) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		log.Warnw("[CreditService] 读取用户失败，跳过额度提醒", "userId", userID, "error", err)
		return
	}

	var (
		flag    repository.NotificationFlag
		tpl     string
		percent int
	)
	switch remaining, total := user.CustomMessageCredits, user.TotalCredits; {
	case remaining <= 0:
		flag, tpl = repository.FlagCreditOver, mailer.TemplateCreditOver
	case remaining*10 <= total:
		flag, tpl, percent = repository.FlagNinetyPercent, mailer.TemplateCreditWarning, 90
	case remaining*5 <= total:
		flag, tpl, percent = repository.FlagEightyPercent, mailer.TemplateCreditWarning, 80
	default:
		return
	}

	marked, err := s.userRepo.MarkNotified(ctx, userID, flag)
	if err != nil {
		log.Warnw("[CreditService] 更新提醒标志失败", "userId", userID, "flag", flag, "error", err)
		return
	}
	if !marked {
		return
	}

	data := map[string]string{}
	if percent > 0 {
		data["percent"] = strconv.Itoa(percent)
	}
	payload := tasks.EmailPayload{To: user.Email, Template: tpl, Data: data}
	if err := tasks.Enqueue(ctx, s.dispatcher, tasks.TypeSendEmail, payload); err != nil {
		log.Warnw("[CreditService] 投递额度提醒邮件失败", "userId", userID, "error", err)
	}
}

