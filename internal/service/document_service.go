package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/tika"

	"github.com/google/uuid"
)

// DocumentService 管理知识目录中的文件与链接：上传文件、删除条目、更新链接列表。
type DocumentService interface {
	// UploadFile 上传一个文件并返回待训练的条目，条目在下一次训练时才写入目录。
	UploadFile(ctx context.Context, userID, chatbotID uint, fileName string, content io.Reader) (*model.KnowledgeFile, error)
	RemoveItems(ctx context.Context, userID, chatbotID uint, ids []string) (*ChatbotView, error)
	UpdateLinks(ctx context.Context, userID, chatbotID uint, links []model.TrainingData) (*ChatbotView, error)
}

type documentService struct {
	userRepo    repository.UserRepository
	chatbotRepo repository.ChatbotRepository
	gateway     *Gateway
	extractor   tika.Extractor
	guard       quotaGuard
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	userRepo repository.UserRepository,
	grantRepo repository.PlanGrantRepository,
	chatbotRepo repository.ChatbotRepository,
	gateway *Gateway,
	extractor tika.Extractor,
	cfg config.IngestionConfig,
) DocumentService {
	return &documentService{
		userRepo:    userRepo,
		chatbotRepo: chatbotRepo,
		gateway:     gateway,
		extractor:   extractor,
		guard:       quotaGuard{grantRepo: grantRepo, freeLinkLimit: cfg.FreeLinkLimit, now: time.Now},
	}
}

func (s *documentService) UploadFile(ctx context.Context, userID, chatbotID uint, fileName string, content io.Reader) (*model.KnowledgeFile, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, precondition("File name is required")
	}
	user, err := findUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, internal("DocumentService.UploadFile", err)
	}
	if _, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID); err != nil {
		return nil, internal("DocumentService.UploadFile", err)
	}
	client, err := s.gateway.ForUser(user)
	if err != nil {
		return nil, internal("DocumentService.UploadFile", err)
	}

	// 先落到临时目录：Tika 统计字符数与上传都需要读一遍文件
	dir, err := os.MkdirTemp("", "chatfabrica-file-")
	if err != nil {
		return nil, internal("DocumentService.UploadFile", err)
	}
	defer os.RemoveAll(dir)

	ext := filepath.Ext(fileName)
	localName := strings.TrimSuffix(fileName, ext) + "-" + uuid.NewString()[:8] + ext
	path := filepath.Join(dir, localName)
	if err := writeFile(path, content); err != nil {
		return nil, internal("DocumentService.UploadFile", err)
	}

	chars, err := s.countCharacters(ctx, path, fileName)
	if err != nil {
		return nil, internal("DocumentService.UploadFile", err)
	}
	docID, err := client.UploadDocument(ctx, path)
	if err != nil {
		return nil, internal("DocumentService.UploadFile", err)
	}
	log.Infof("[DocumentService] 聊天机器人 %d 上传文件 %s -> %s (%d 字符)", chatbotID, fileName, docID, chars)

	return &model.KnowledgeFile{
		ID:             docID,
		Name:           fileName,
		CharacterCount: chars,
		Type:           model.ItemTypeFile,
	}, nil
}

func (s *documentService) countCharacters(ctx context.Context, path, fileName string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	text, err := s.extractor.ExtractText(ctx, f, fileName)
	if err != nil {
		return 0, err
	}
	return model.CharacterCount(strings.TrimSpace(text)), nil
}

// RemoveItems 从目录中移除条目并尽力删除对应的外部文档。
// 不在目录中的 ID（已抓取但未训练的暂存文档）同样会被删除，
// 但仍被该用户其他聊天机器人引用的文档保留。
func (s *documentService) RemoveItems(ctx context.Context, userID, chatbotID uint, ids []string) (*ChatbotView, error) {
	if len(ids) == 0 {
		return nil, precondition("Invalid data")
	}
	user, err := findUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, internal("DocumentService.RemoveItems", err)
	}
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID)
	if err != nil {
		return nil, internal("DocumentService.RemoveItems", err)
	}
	client, err := s.gateway.ForUser(user)
	if err != nil {
		return nil, internal("DocumentService.RemoveItems", err)
	}

	if removed := bot.RemoveItems(ids); len(removed) > 0 {
		if err := s.chatbotRepo.SaveCatalog(ctx, bot); err != nil {
			return nil, internal("DocumentService.RemoveItems", err)
		}
		log.Infof("[DocumentService] 聊天机器人 %d 移除 %d 个条目", bot.ID, len(removed))
	}
	shared, err := s.chatbotRepo.OwnerReferences(ctx, userID, bot.ID, ids)
	if err != nil {
		return nil, internal("DocumentService.RemoveItems", err)
	}
	orphaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if shared[id] {
			log.Warnf("[DocumentService] 文档 %s 仍被其他聊天机器人引用，跳过外部删除", id)
			continue
		}
		orphaned = append(orphaned, id)
	}
	client.DeleteDocuments(ctx, orphaned)
	return &ChatbotView{Chatbot: bot, Files: bot.KnowledgeFiles()}, nil
}

// UpdateLinks 整体替换链接列表，同样受字符与链接上限约束。
func (s *documentService) UpdateLinks(ctx context.Context, userID, chatbotID uint, links []model.TrainingData) (*ChatbotView, error) {
	bot, err := findOwnedChatbot(ctx, s.chatbotRepo, userID, chatbotID)
	if err != nil {
		return nil, internal("DocumentService.UpdateLinks", err)
	}
	if links == nil {
		links = []model.TrainingData{}
	}
	previous := bot.TrainingDatas
	bot.MergeLinks(links)
	if err := s.guard.check(ctx, userID, bot, bot.Text.CharacterCount, previous); err != nil {
		return nil, internal("DocumentService.UpdateLinks", err)
	}
	if err := s.chatbotRepo.SaveCatalog(ctx, bot); err != nil {
		return nil, internal("DocumentService.UpdateLinks", err)
	}
	return &ChatbotView{Chatbot: bot, Files: bot.KnowledgeFiles()}, nil
}

func writeFile(path string, content io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
