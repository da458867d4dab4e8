package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/es"
	"chatfabrica-go/pkg/llm"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/storage"
	"chatfabrica-go/pkg/tasks"

	"gorm.io/gorm"
)

const iconURLExpiry = 24 * time.Hour

// ChatbotView 是聊天机器人对外的结构，files 由文件列表和文本槽位合成。
type ChatbotView struct {
	*model.Chatbot
	Files   []model.KnowledgeFile `json:"files"`
	IconURL string                `json:"iconUrl,omitempty"`
}

// PublicChatbot 是 iframe 小组件可见的字段。
type PublicChatbot struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Model      string `json:"model"`
	Visibility string `json:"visibility"`
	IconURL    string `json:"iconUrl,omitempty"`
}

// ChatbotUpdate 是可修改的设置，nil 表示不修改。
type ChatbotUpdate struct {
	Name         *string  `json:"name"`
	Instructions *string  `json:"instructions"`
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	Visibility   *string  `json:"visibility"`
}

// ChatbotService 负责聊天机器人的创建、修改、删除与查询。
type ChatbotService interface {
	Create(ctx context.Context, userID uint) (*ChatbotView, error)
	Update(ctx context.Context, userID, chatbotID uint, fields ChatbotUpdate) (*ChatbotView, error)
	Delete(ctx context.Context, userID, chatbotID uint) error
	List(ctx context.Context, userID uint) ([]ChatbotView, error)
	Get(ctx context.Context, userID, chatbotID uint) (*ChatbotView, error)
	GetPublic(ctx context.Context, chatbotID uint) (*PublicChatbot, error)
}

type chatbotService struct {
	userRepo    repository.UserRepository
	grantRepo   repository.PlanGrantRepository
	chatbotRepo repository.ChatbotRepository
	chatLogRepo repository.ChatLogRepository
	gateway     *Gateway
	dispatcher  tasks.Dispatcher
	index       es.ExchangeIndex
	store       storage.ObjectStore
	openaiCfg   config.OpenAIConfig
	creditsCfg  config.CreditsConfig
	now         func() time.Time
}

// NewChatbotService 创建一个新的 ChatbotService 实例。index 与 store 可以为 nil。
func NewChatbotService(
	userRepo repository.UserRepository,
	grantRepo repository.PlanGrantRepository,
	chatbotRepo repository.ChatbotRepository,
	chatLogRepo repository.ChatLogRepository,
	gateway *Gateway,
	dispatcher tasks.Dispatcher,
	index es.ExchangeIndex,
	store storage.ObjectStore,
	openaiCfg config.OpenAIConfig,
	creditsCfg config.CreditsConfig,
) ChatbotService {
	return &chatbotService{
		userRepo:    userRepo,
		grantRepo:   grantRepo,
		chatbotRepo: chatbotRepo,
		chatLogRepo: chatLogRepo,
		gateway:     gateway,
		dispatcher:  dispatcher,
		index:       index,
		store:       store,
		openaiCfg:   openaiCfg,
		creditsCfg:  creditsCfg,
		now:         time.Now,
	}
}

// Create 需要一个仍有聊天机器人名额的有效窗口，先在外部服务创建 assistant，再落库并占用名额。
func (s *chatbotService) Create(ctx context.Context, userID uint) (*ChatbotView, error) {
	user, err := findUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, internal("ChatbotService.Create", err)
	}
	client, err := s.gateway.ForUser(user)
	if err != nil {
		return nil, internal("ChatbotService.Create", err)
	}
	if !s.hasChatbotSlot(ctx, userID) {
		return nil, ErrChatbotLimit
	}

	count, err := s.chatbotRepo.CountByOwner(ctx, userID)
	if err != nil {
		return nil, internal("ChatbotService.Create", err)
	}
	name := fmt.Sprintf("Untitled %d", count+1)
	assistantID, err := client.CreateAssistant(ctx, llm.AssistantParams{
		Name:         name,
		Instructions: s.openaiCfg.DefaultInstructions,
		Model:        s.openaiCfg.DefaultModel,
		Temperature:  s.openaiCfg.DefaultTemperature,
	})
	if err != nil {
		return nil, internal("ChatbotService.Create", err)
	}
	log.Infof("[ChatbotService] 用户 %d 创建 assistant %s", userID, assistantID)

	bot := &model.Chatbot{
		UserID:       userID,
		AssistantID:  assistantID,
		Name:         name,
		Instructions: s.openaiCfg.DefaultInstructions,
		Model:        s.openaiCfg.DefaultModel,
		Temperature:  s.openaiCfg.DefaultTemperature,
		Visibility:   model.VisibilityPrivate,
		Status:       model.ChatbotStatusActive,
	}
	if err := s.chatbotRepo.Create(ctx, bot); err != nil {
		s.dropAssistant(ctx, client, assistantID)
		return nil, internal("ChatbotService.Create", err)
	}

	if _, err := s.grantRepo.TakeChatbotSlot(ctx, userID, s.now()); err != nil {
		// 并发创建抢走了最后一个名额
		_ = s.chatbotRepo.Delete(ctx, bot.ID)
		s.dropAssistant(ctx, client, assistantID)
		if errors.Is(err, repository.ErrNoChatbotSlot) {
			return nil, ErrChatbotLimit
		}
		return nil, internal("ChatbotService.Create", err)
	}

	trackUsage(ctx, s.dispatcher, userID, model.UsageDelta{Chatbots: 1})
	return s.view(ctx, bot), nil
}

func (s *chatbotService) hasChatbotSlot(ctx context.Context, userID uint) bool {
	grants, err := s.grantRepo.ListActive(ctx, userID, s.now())
	if err != nil {
		log.Warnw("[ChatbotService] 读取额度窗口失败", "userId", userID, "error", err)
		return false
	}
	for _, g := range grants {
		if g.CurrentChatbotCount > 0 {
			return true
		}
	}
	return false
}

func (s *chatbotService) dropAssistant(ctx context.Context, client llm.Client, assistantID string) {
	if err := client.DeleteAssistant(ctx, assistantID); err != nil {
		log.Warnw("[ChatbotService] 删除 assistant 失败，忽略", "assistantId", assistantID, "error", err)
	}
}

func (s *chatbotService) Update(ctx context.Context, userID, chatbotID uint, fields ChatbotUpdate) (*ChatbotView, error) {
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID)
	if err != nil {
		return nil, internal("ChatbotService.Update", err)
	}
	// 名称与模型先规整，assistant 与本地记录保持一致
	if fields.Name != nil {
		name := strings.TrimSpace(*fields.Name)
		fields.Name = &name
	}
	if fields.Model != nil {
		modelName := strings.ToLower(strings.TrimSpace(*fields.Model))
		fields.Model = &modelName
	}

	if err := s.validateUpdate(fields); err != nil {
		return nil, err
	}

	assistantFields := llm.AssistantFields{
		Name:         fields.Name,
		Instructions: fields.Instructions,
		Model:        fields.Model,
		Temperature:  fields.Temperature,
	}
	if assistantFields != (llm.AssistantFields{}) {
		user, err := findUser(ctx, s.userRepo, userID)
		if err != nil {
			return nil, internal("ChatbotService.Update", err)
		}
		client, err := s.gateway.ForUser(user)
		if err != nil {
			return nil, internal("ChatbotService.Update", err)
		}
		if err := client.UpdateAssistant(ctx, bot.AssistantID, assistantFields); err != nil {
			return nil, internal("ChatbotService.Update", err)
		}
	}

	if fields.Name != nil {
		bot.Name = *fields.Name
	}
	if fields.Instructions != nil {
		bot.Instructions = *fields.Instructions
	}
	if fields.Model != nil {
		bot.Model = *fields.Model
	}
	if fields.Temperature != nil {
		bot.Temperature = *fields.Temperature
	}
	if fields.Visibility != nil {
		bot.Visibility = *fields.Visibility
	}
	if err := s.chatbotRepo.UpdateSettings(ctx, bot); err != nil {
		return nil, internal("ChatbotService.Update", err)
	}
	return s.view(ctx, bot), nil
}

func (s *chatbotService) validateUpdate(fields ChatbotUpdate) error {
	if fields.Name != nil && strings.TrimSpace(*fields.Name) == "" {
		return precondition("Chatbot name cannot be empty")
	}
	if fields.Model != nil && !s.creditsCfg.Supports(*fields.Model) {
		return precondition("Model %q is not supported", *fields.Model)
	}
	if fields.Temperature != nil && (*fields.Temperature < 0 || *fields.Temperature > 2) {
		return precondition("Temperature must be between 0 and 2")
	}
	if fields.Visibility != nil && *fields.Visibility != model.VisibilityPrivate && *fields.Visibility != model.VisibilityPublic {
		return precondition("Visibility must be %q or %q", model.VisibilityPrivate, model.VisibilityPublic)
	}
	return nil
}

// Delete 尽力删除外部文档与 assistant，然后删除本地数据并归还一个名额。
func (s *chatbotService) Delete(ctx context.Context, userID, chatbotID uint) error {
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID)
	if err != nil {
		return internal("ChatbotService.Delete", err)
	}
	user, err := findUser(ctx, s.userRepo, userID)
	if err != nil {
		return internal("ChatbotService.Delete", err)
	}
	client, err := s.gateway.ForUser(user)
	if err != nil {
		return internal("ChatbotService.Delete", err)
	}

	client.DeleteDocuments(ctx, bot.DocumentIDs())
	s.dropAssistant(ctx, client, bot.AssistantID)

	if err := s.chatLogRepo.DeleteByChatbot(ctx, bot.ID); err != nil {
		return internal("ChatbotService.Delete", err)
	}
	if err := s.chatbotRepo.Delete(ctx, bot.ID); err != nil {
		return internal("ChatbotService.Delete", err)
	}
	if err := s.grantRepo.ReturnChatbotSlot(ctx, userID); err != nil {
		log.Warnw("[ChatbotService] 归还聊天机器人名额失败", "userId", userID, "error", err)
	}

	if s.index != nil {
		if err := s.index.DeleteChatbot(ctx, bot.ID); err != nil {
			log.Warnw("[ChatbotService] 删除聊天记录索引失败", "chatbotId", bot.ID, "error", err)
		}
	}
	if s.store != nil && bot.IconKey != "" {
		if err := s.store.Remove(ctx, bot.IconKey); err != nil {
			log.Warnw("[ChatbotService] 删除图标失败", "chatbotId", bot.ID, "error", err)
		}
	}
	log.Infof("[ChatbotService] 用户 %d 删除聊天机器人 %d", userID, bot.ID)
	return nil
}

func (s *chatbotService) List(ctx context.Context, userID uint) ([]ChatbotView, error) {
	bots, err := s.chatbotRepo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, internal("ChatbotService.List", err)
	}
	views := make([]ChatbotView, 0, len(bots))
	for i := range bots {
		views = append(views, *s.view(ctx, &bots[i]))
	}
	return views, nil
}

func (s *chatbotService) Get(ctx context.Context, userID, chatbotID uint) (*ChatbotView, error) {
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID)
	if err != nil {
		return nil, internal("ChatbotService.Get", err)
	}
	return s.view(ctx, bot), nil
}

func (s *chatbotService) GetPublic(ctx context.Context, chatbotID uint) (*PublicChatbot, error) {
	bot, err := s.chatbotRepo.FindByID(ctx, chatbotID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatbotNotFound
	}
	if err != nil {
		return nil, internal("ChatbotService.GetPublic", err)
	}
	return &PublicChatbot{
		ID:         bot.ID,
		Name:       bot.Name,
		Model:      bot.Model,
		Visibility: bot.Visibility,
		IconURL:    s.iconURL(ctx, bot.IconKey),
	}, nil
}

func (s *chatbotService) view(ctx context.Context, bot *model.Chatbot) *ChatbotView {
	return &ChatbotView{Chatbot: bot, Files: bot.KnowledgeFiles(), IconURL: s.iconURL(ctx, bot.IconKey)}
}

func (s *chatbotService) iconURL(ctx context.Context, key string) string {
	if s.store == nil || key == "" {
		return ""
	}
	u, err := s.store.PresignedURL(ctx, key, iconURLExpiry)
	if err != nil {
		return ""
	}
	return u
}

// findUser 把记录不存在转换成 ErrUserNotFound。
func findUser(ctx context.Context, repo repository.UserRepository, userID uint) (*model.User, error) {
	user, err := repo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// findOwnedChatbot 只返回属于 userID 的聊天机器人，否则返回 ErrChatbotNotFound。
func findOwnedChatbot(ctx context.Context, repo repository.ChatbotRepository, userID, chatbotID uint) (*model.Chatbot, error) {
	bot, err := repo.FindByOwner(ctx, userID, chatbotID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatbotNotFound
	}
	return bot, err
}

// trackUsage 投递一次用量统计，失败只记录日志。
func trackUsage(ctx context.Context, dispatcher tasks.Dispatcher, userID uint, delta model.UsageDelta) {
	payload := tasks.UsagePayload{UserID: userID, Delta: delta}
	if err := tasks.Enqueue(ctx, dispatcher, tasks.TypeTrackUsage, payload); err != nil {
		log.Warnw("投递用量统计任务失败", "userId", userID, "error", err)
	}
}
