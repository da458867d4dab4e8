package service

import (
	"context"
	"errors"
	"strings"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/es"

	"gorm.io/gorm"
)

const searchLimit = 20

// ChatLogService 提供聊天记录的查询与全文检索。
type ChatLogService interface {
	List(ctx context.Context, userID, chatbotID uint) ([]model.ChatLog, error)
	Get(ctx context.Context, userID, chatbotID, logID uint) (*model.ChatLog, error)
	Search(ctx context.Context, userID, chatbotID uint, query string) ([]model.ExchangeDocument, error)
}

type chatLogService struct {
	chatbotRepo repository.ChatbotRepository
	chatLogRepo repository.ChatLogRepository
	index       es.ExchangeIndex
}

// NewChatLogService 创建一个新的 ChatLogService 实例，index 为 nil 时检索不可用。
func NewChatLogService(chatbotRepo repository.ChatbotRepository, chatLogRepo repository.ChatLogRepository, index es.ExchangeIndex) ChatLogService {
	return &chatLogService{chatbotRepo: chatbotRepo, chatLogRepo: chatLogRepo, index: index}
}

// List 按时间倒序返回聊天机器人的全部会话记录。
func (s *chatLogService) List(ctx context.Context, userID, chatbotID uint) ([]model.ChatLog, error) {
	if _, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID); err != nil {
		return nil, internal("ChatLogService.List", err)
	}
	logs, err := s.chatLogRepo.ListByChatbot(ctx, chatbotID)
	if err != nil {
		return nil, internal("ChatLogService.List", err)
	}
	return logs, nil
}

func (s *chatLogService) Get(ctx context.Context, userID, chatbotID, logID uint) (*model.ChatLog, error) {
	if _, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID); err != nil {
		return nil, internal("ChatLogService.Get", err)
	}
	entry, err := s.chatLogRepo.FindForChatbot(ctx, logID, chatbotID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatLogNotFound
	}
	if err != nil {
		return nil, internal("ChatLogService.Get", err)
	}
	return entry, nil
}

func (s *chatLogService) Search(ctx context.Context, userID, chatbotID uint, query string) ([]model.ExchangeDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, precondition("Search query is required")
	}
	if s.index == nil {
		return nil, precondition("Chat log search is not enabled")
	}
	if _, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID); err != nil {
		return nil, internal("ChatLogService.Search", err)
	}
	docs, err := s.index.SearchExchanges(ctx, chatbotID, query, searchLimit)
	if err != nil {
		return nil, internal("ChatLogService.Search", err)
	}
	return docs, nil
}
