// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/hash"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/mailer"
	"chatfabrica-go/pkg/secret"
	"chatfabrica-go/pkg/tasks"
	"chatfabrica-go/pkg/token"

	"gorm.io/gorm"
)

// Profile 是当前用户的资料，密钥本身永远不返回。
type Profile struct {
	*model.User
	HasAPIKey bool `json:"hasApiKey"`
}

// CreditSummary 是剩余额度与全部有效窗口。
type CreditSummary struct {
	Remaining int               `json:"remaining"`
	Grants    []model.PlanGrant `json:"grants"`
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, email, name, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (string, *model.User, error)
	GetProfile(ctx context.Context, userID uint) (*Profile, error)
	SaveAPIKey(ctx context.Context, userID uint, apiKey string) error
	GetAnalytics(ctx context.Context, userID uint) (*model.Analytics, error)
	GetCredits(ctx context.Context, userID uint) (*CreditSummary, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo      repository.UserRepository
	grantRepo     repository.PlanGrantRepository
	analyticsRepo repository.AnalyticsRepository
	box           *secret.Box
	jwtManager    *token.JWTManager
	dispatcher    tasks.Dispatcher
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(
	userRepo repository.UserRepository,
	grantRepo repository.PlanGrantRepository,
	analyticsRepo repository.AnalyticsRepository,
	box *secret.Box,
	jwtManager *token.JWTManager,
	dispatcher tasks.Dispatcher,
) UserService {
	return &userService{
		userRepo:      userRepo,
		grantRepo:     grantRepo,
		analyticsRepo: analyticsRepo,
		box:           box,
		jwtManager:    jwtManager,
		dispatcher:    dispatcher,
	}
}

// Register 创建账号并投递欢迎邮件。额度窗口由计费回调发放，这里不创建。
func (s *userService) Register(ctx context.Context, email, name, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, precondition("Invalid email address")
	}
	if len(password) < 8 {
		return nil, precondition("Password must be at least 8 characters")
	}

	// 1. 检查邮箱是否已存在
	_, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, precondition("User already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal("UserService.Register", err)
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, internal("UserService.Register", err)
	}

	user := &model.User{Email: email, Name: strings.TrimSpace(name), Password: hashedPassword}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, internal("UserService.Register", err)
	}

	payload := tasks.EmailPayload{To: user.Email, Template: mailer.TemplateWelcome}
	if err := tasks.Enqueue(ctx, s.dispatcher, tasks.TypeSendEmail, payload); err != nil {
		log.Warnw("[UserService] 投递欢迎邮件失败", "userId", user.ID, "error", err)
	}
	return user, nil
}

// Login 校验密码并签发 access token。
func (s *userService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, internal("UserService.Login", err)
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", nil, ErrInvalidCredentials
	}
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", nil, internal("UserService.Login", err)
	}
	return accessToken, user, nil
}

func (s *userService) GetProfile(ctx context.Context, userID uint) (*Profile, error) {
	user, err := findUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, internal("UserService.GetProfile", err)
	}
	return &Profile{User: user, HasAPIKey: user.HasAPIKey()}, nil
}

// SaveAPIKey 加密保存用户的外部服务密钥，空串表示删除。
func (s *userService) SaveAPIKey(ctx context.Context, userID uint, apiKey string) error {
	if _, err := findUser(ctx, s.userRepo, userID); err != nil {
		return internal("UserService.SaveAPIKey", err)
	}
	sealed, err := s.box.Seal(strings.TrimSpace(apiKey))
	if err != nil {
		return internal("UserService.SaveAPIKey", err)
	}
	if err := s.userRepo.UpdateAPIKey(ctx, userID, sealed); err != nil {
		return internal("UserService.SaveAPIKey", err)
	}
	log.Infof("[UserService] 用户 %d 更新了 API key", userID)
	return nil
}

func (s *userService) GetAnalytics(ctx context.Context, userID uint) (*model.Analytics, error) {
	analytics, err := s.analyticsRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, internal("UserService.GetAnalytics", err)
	}
	return analytics, nil
}

func (s *userService) GetCredits(ctx context.Context, userID uint) (*CreditSummary, error) {
	now := time.Now()
	grants, err := s.grantRepo.ListActive(ctx, userID, now)
	if err != nil {
		return nil, internal("UserService.GetCredits", err)
	}
	remaining := 0
	for _, g := range grants {
		remaining += g.CurrentMessageCredits
	}
	return &CreditSummary{Remaining: remaining, Grants: grants}, nil
}
