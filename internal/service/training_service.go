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
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/tasks"

	"gorm.io/gorm"
)

// TrainRequest 是一次训练提交。
// Text 为 nil 表示保留现有文本，指向空串表示清空；Files/Links 为 nil 表示保留，空切片表示清空。
type TrainRequest struct {
	AssistantID string                `json:"assistantId"`
	ChatbotID   uint                  `json:"chatbotId"`
	Text        *string               `json:"text"`
	Files       []model.KnowledgeFile `json:"files"`
	Links       []model.TrainingData  `json:"links"`
}

// TrainingService 把文本、文件与链接组装成新的向量库并挂到 assistant 上。
type TrainingService interface {
	Train(ctx context.Context, userID uint, req TrainRequest) (*ChatbotView, error)
}

type trainingService struct {
	userRepo    repository.UserRepository
	grantRepo   repository.PlanGrantRepository
	chatbotRepo repository.ChatbotRepository
	gateway     *Gateway
	dispatcher  tasks.Dispatcher
	cfg         config.IngestionConfig
	now         func() time.Time
}

// NewTrainingService 创建一个新的 TrainingService 实例。
func NewTrainingService(
	userRepo repository.UserRepository,
	grantRepo repository.PlanGrantRepository,
	chatbotRepo repository.ChatbotRepository,
	gateway *Gateway,
	dispatcher tasks.Dispatcher,
	cfg config.IngestionConfig,
) TrainingService {
	return &trainingService{
		userRepo:    userRepo,
		grantRepo:   grantRepo,
		chatbotRepo: chatbotRepo,
		gateway:     gateway,
		dispatcher:  dispatcher,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Train 依次执行：额度检查、链接数检查、上传文本、收集文档、重建向量库、保存目录、统计用量。
// 任何一步失败都不会写入目录，已上传的新文本文档会被清理。
func (s *trainingService) Train(ctx context.Context, userID uint, req TrainRequest) (*ChatbotView, error) {
	user, err := findUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, internal("TrainingService.Train", err)
	}
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, req.ChatbotID)
	if err != nil {
		return nil, internal("TrainingService.Train", err)
	}
	if req.AssistantID != "" && req.AssistantID != bot.AssistantID {
		return nil, precondition("Invalid data")
	}
	client, err := s.gateway.ForUser(user)
	if err != nil {
		return nil, internal("TrainingService.Train", err)
	}

	// 1~2. 以提交后的目录计算字符数与链接数
	next := *bot
	if req.Files != nil {
		next.SetFiles(withoutTextItems(req.Files))
	}
	if req.Links != nil {
		next.MergeLinks(req.Links)
	}
	textChars := next.Text.CharacterCount
	if req.Text != nil {
		textChars = model.CharacterCount(*req.Text)
	}
	guard := quotaGuard{grantRepo: s.grantRepo, freeLinkLimit: s.cfg.FreeLinkLimit, now: s.now}
	if err := guard.check(ctx, userID, &next, textChars, bot.TrainingDatas); err != nil {
		return nil, internal("TrainingService.Train", err)
	}

	// 3. 文本每次训练都重新上传，正文末尾追加语言提示，目录里只保存原文
	var superseded, uploaded string
	if req.Text != nil {
		if text := *req.Text; text != "" {
			docID, name, err := uploadText(ctx, client, text, text+s.cfg.TextMarker)
			if err != nil {
				return nil, internal("TrainingService.Train", err)
			}
			uploaded = docID
			superseded = next.ReplaceText(docID, name, text)
			log.Infof("[TrainingService] 聊天机器人 %d 上传文本文档 %s", bot.ID, docID)
		} else if next.HasText() {
			superseded = next.Text.DocumentID
			next.ClearText()
		}
	}
	rollback := func() {
		if uploaded != "" {
			client.DeleteDocuments(ctx, []string{uploaded})
		}
	}

	// 4~5. 旧向量库不删除，只替换 assistant 上的指向
	documentIDs := next.DocumentIDs()
	vectorStoreID, err := client.BuildVectorStore(ctx, fmt.Sprintf("%d_vector_store", user.ID), documentIDs)
	if err != nil {
		rollback()
		return nil, internal("TrainingService.Train", err)
	}
	if err := client.AttachVectorStore(ctx, bot.AssistantID, vectorStoreID); err != nil {
		rollback()
		return nil, internal("TrainingService.Train", err)
	}
	log.Infof("[TrainingService] 聊天机器人 %d 挂载向量库 %s (%d 个文档)", bot.ID, vectorStoreID, len(documentIDs))

	// 6. 保存目录
	trainedAt := s.now()
	next.LastTrainAt = &trainedAt
	if err := s.chatbotRepo.SaveCatalog(ctx, &next); err != nil {
		rollback()
		return nil, internal("TrainingService.Train", err)
	}
	if superseded != "" {
		client.DeleteDocuments(ctx, []string{superseded})
	}

	// 7. 用量统计
	trackUsage(ctx, s.dispatcher, userID, model.UsageDelta{Characters: int64(next.TotalCharacters()), Trains: 1})
	return &ChatbotView{Chatbot: &next, Files: next.KnowledgeFiles()}, nil
}

// withoutTextItems 去掉客户端回传的 type=text 条目，文本槽位只通过 Text 字段修改。
func withoutTextItems(files []model.KnowledgeFile) []model.KnowledgeFile {
	out := make([]model.KnowledgeFile, 0, len(files))
	for _, f := range files {
		if f.Type == model.ItemTypeText {
			continue
		}
		out = append(out, f)
	}
	return out
}

// quotaGuard 检查目录是否超出当前基础套餐的字符上限与免费套餐的链接上限。
type quotaGuard struct {
	grantRepo     repository.PlanGrantRepository
	freeLinkLimit int
	now           func() time.Time
}

// check 中 textChars 覆盖 next 的文本槽位字符数，previousLinks 是提交前已保存的链接。
func (g quotaGuard) check(ctx context.Context, userID uint, next *model.Chatbot, textChars int, previousLinks []model.TrainingData) error {
	grant, err := g.grantRepo.LatestBaseGrant(ctx, userID, g.now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoPlan
	}
	if err != nil {
		return err
	}

	limit := grant.InitialCharactersPerChatbot
	total := next.TotalCharacters() - next.Text.CharacterCount + textChars
	if total > limit {
		if grant.IsFree() {
			return quota("You can only train your chatbot on max %d characters on a free plan. Please upgrade.", limit)
		}
		return quota("You can only train your chatbot on max %d characters.", limit)
	}

	if grant.IsFree() && g.freeLinkLimit > 0 {
		if n := distinctLinks(previousLinks, next.TrainingDatas); n > g.freeLinkLimit && len(next.TrainingDatas) > len(previousLinks) {
			return quota("You can only train your chatbot on max %d links on a free plan. Please upgrade.", g.freeLinkLimit)
		}
	}
	return nil
}

// distinctLinks 统计两个链接列表合并后不同的链接数，没有文档 ID 的链接按 URL 去重。
func distinctLinks(lists ...[]model.TrainingData) int {
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, l := range list {
			key := l.FileID
			if key == "" {
				key = "url:" + strings.TrimSpace(l.URL)
			}
			seen[key] = struct{}{}
		}
	}
	return len(seen)
}
