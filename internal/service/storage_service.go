package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/storage"

	"github.com/google/uuid"
)

const maxIconSize = 2 << 20

// StorageService 管理聊天机器人的图标。
type StorageService interface {
	UploadIcon(ctx context.Context, userID, chatbotID uint, fileName string, r io.Reader, size int64, contentType string) (string, error)
	RemoveIcon(ctx context.Context, userID, chatbotID uint) error
}

type storageService struct {
	chatbotRepo repository.ChatbotRepository
	store       storage.ObjectStore
}

// NewStorageService 创建一个新的 StorageService 实例。
func NewStorageService(chatbotRepo repository.ChatbotRepository, store storage.ObjectStore) StorageService {
	return &storageService{chatbotRepo: chatbotRepo, store: store}
}

// UploadIcon 上传新图标并替换旧图标，返回新图标的预签名链接。
func (s *storageService) UploadIcon(ctx context.Context, userID, chatbotID uint, fileName string, r io.Reader, size int64, contentType string) (string, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return "", precondition("Icon must be an image")
	}
	if size <= 0 || size > maxIconSize {
		return "", precondition("Icon must be smaller than %d bytes", maxIconSize)
	}
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID)
	if err != nil {
		return "", internal("StorageService.UploadIcon", err)
	}

	key := fmt.Sprintf("chatbots/%d/icon-%s%s", bot.ID, uuid.NewString(), strings.ToLower(filepath.Ext(fileName)))
	if err := s.store.Put(ctx, key, r, size, contentType); err != nil {
		return "", internal("StorageService.UploadIcon", err)
	}
	if err := s.chatbotRepo.UpdateIcon(ctx, bot.ID, key); err != nil {
		return "", internal("StorageService.UploadIcon", err)
	}
	if bot.IconKey != "" {
		if err := s.store.Remove(ctx, bot.IconKey); err != nil {
			log.Warnw("[StorageService] 删除旧图标失败", "key", bot.IconKey, "error", err)
		}
	}

	url, err := s.store.PresignedURL(ctx, key, iconURLExpiry)
	if err != nil {
		return "", internal("StorageService.UploadIcon", err)
	}
	return url, nil
}

func (s *storageService) RemoveIcon(ctx context.Context, userID, chatbotID uint) error {
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID)
	if err != nil {
		return internal("StorageService.RemoveIcon", err)
	}
	if bot.IconKey == "" {
		return nil
	}
	if err := s.chatbotRepo.UpdateIcon(ctx, bot.ID, ""); err != nil {
		return internal("StorageService.RemoveIcon", err)
	}
	if err := s.store.Remove(ctx, bot.IconKey); err != nil {
		log.Warnw("[StorageService] 删除图标失败", "key", bot.IconKey, "error", err)
	}
	return nil
}
