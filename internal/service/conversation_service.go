package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/llm"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/mailer"
	"chatfabrica-go/pkg/poll"
	"chatfabrica-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionState 是一次消息交换所处的阶段。
type SessionState string

const (
	StateNew             SessionState = "NEW"
	StateThreadCreated   SessionState = "THREAD_CREATED"
	StateMessageSent     SessionState = "MESSAGE_SENT"
	StateRunStarted      SessionState = "RUN_STARTED"
	StateRunPolling      SessionState = "RUN_POLLING"
	StateRunCompleted    SessionState = "RUN_COMPLETED"
	StateResponseFetched SessionState = "RESPONSE_FETCHED"
	StateLogged          SessionState = "LOGGED"
)

// Observer 在每次状态变化时被调用，可以为 nil。
type Observer func(state SessionState)

// MessageRequest 是一次用户消息。ThreadID 为空时开启新会话。
type MessageRequest struct {
	AssistantID string `json:"assistantId"`
	ChatbotID   uint   `json:"chatbotId"`
	Message     string `json:"message"`
	ThreadID    string `json:"threadId"`
}

// MessageResult 是一次交换的结果，Response[0] 是清洗后的最新回答。
type MessageResult struct {
	ThreadID string        `json:"threadId"`
	Response []llm.Message `json:"response"`
}

// Text 返回回答的文本。
func (r *MessageResult) Text() string {
	if len(r.Response) == 0 {
		return ""
	}
	return r.Response[0].FirstText()
}

// ConversationService 驱动一次完整的消息交换：确保 thread、追加消息、执行 run、轮询、取回回答并记录。
type ConversationService interface {
	StartConversation(ctx context.Context, req MessageRequest, observe Observer) (*MessageResult, error)
	ContinueConversation(ctx context.Context, req MessageRequest, observe Observer) (*MessageResult, error)
	// Send 按 ThreadID 是否为空选择开启或继续会话。
	Send(ctx context.Context, req MessageRequest, observe Observer) (*MessageResult, error)
}

type conversationService struct {
	userRepo    repository.UserRepository
	chatbotRepo repository.ChatbotRepository
	chatLogRepo repository.ChatLogRepository
	lockRepo    repository.ThreadLockRepository
	credits     CreditService
	gateway     *Gateway
	dispatcher  tasks.Dispatcher
	creditsCfg  config.CreditsConfig
	cfg         config.ConversationConfig
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(
	userRepo repository.UserRepository,
	chatbotRepo repository.ChatbotRepository,
	chatLogRepo repository.ChatLogRepository,
	lockRepo repository.ThreadLockRepository,
	credits CreditService,
	gateway *Gateway,
	dispatcher tasks.Dispatcher,
	creditsCfg config.CreditsConfig,
	cfg config.ConversationConfig,
) ConversationService {
	return &conversationService{
		userRepo:    userRepo,
		chatbotRepo: chatbotRepo,
		chatLogRepo: chatLogRepo,
		lockRepo:    lockRepo,
		credits:     credits,
		gateway:     gateway,
		dispatcher:  dispatcher,
		creditsCfg:  creditsCfg,
		cfg:         cfg,
	}
}

func (s *conversationService) Send(ctx context.Context, req MessageRequest, observe Observer) (*MessageResult, error) {
	if req.ThreadID == "" {
		return s.StartConversation(ctx, req, observe)
	}
	return s.ContinueConversation(ctx, req, observe)
}

func (s *conversationService) StartConversation(ctx context.Context, req MessageRequest, observe Observer) (*MessageResult, error) {
	req.ThreadID = ""
	res, err := s.exchange(ctx, req, observe)
	return res, internal("ConversationService.StartConversation", err)
}

func (s *conversationService) ContinueConversation(ctx context.Context, req MessageRequest, observe Observer) (*MessageResult, error) {
	if req.ThreadID == "" {
		return nil, precondition("threadId is required")
	}
	res, err := s.exchange(ctx, req, observe)
	return res, internal("ConversationService.ContinueConversation", err)
}

type session struct {
	client   llm.Client
	bot      *model.Chatbot
	owner    *model.User
	threadID string
	observe  Observer
}

func (ss *session) enter(state SessionState) {
	if ss.observe != nil {
		ss.observe(state)
	}
}

func (s *conversationService) exchange(ctx context.Context, req MessageRequest, observe Observer) (*MessageResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, precondition("Message cannot be empty")
	}
	bot, err := s.chatbotRepo.FindByID(ctx, req.ChatbotID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatbotNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.AssistantID != "" && req.AssistantID != bot.AssistantID {
		return nil, precondition("Invalid data")
	}
	owner, err := findUser(ctx, s.userRepo, bot.UserID)
	if err != nil {
		return nil, err
	}
	client, err := s.gateway.ForUser(owner)
	if err != nil {
		return nil, err
	}

	ss := &session{client: client, bot: bot, owner: owner, threadID: req.ThreadID, observe: observe}
	ss.enter(StateNew)

	// 1. 额度预检，真正的扣减在成功之后
	cost := s.creditsCfg.CostFor(bot.Model)
	remaining, err := s.credits.RemainingCredits(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	if remaining < cost {
		return nil, ErrInsufficientCredit
	}

	// 2. 确保 thread 存在
	if ss.threadID == "" {
		if ss.threadID, err = client.CreateThread(ctx); err != nil {
			return nil, err
		}
		ss.enter(StateThreadCreated)
	}

	// 同一 thread 上的交换串行执行
	token, ok, err := s.lockRepo.Acquire(ctx, ss.threadID, s.cfg.ThreadLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrThreadBusy
	}
	defer func() {
		if err := s.lockRepo.Release(context.WithoutCancel(ctx), ss.threadID, token); err != nil {
			log.Warnw("[ConversationService] 释放 thread 锁失败", "threadId", ss.threadID, "error", err)
		}
	}()

	// 3~5. 追加消息、执行 run、取回回答
	answer, err := s.runExchange(ctx, ss, req.Message)
	if err != nil {
		return nil, err
	}

	// 6. 记录
	entry, created, err := s.chatLogRepo.AppendExchange(ctx, ss.threadID, bot.ID, []model.ChatLogMessage{
		{Role: model.RoleUser, Content: req.Message},
		{Role: model.RoleAssistant, Content: answer.FirstText()},
	})
	if errors.Is(err, repository.ErrThreadOwnedElsewhere) {
		return nil, precondition("Invalid data")
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.credits.ReserveAndConsume(ctx, owner.ID, cost); err != nil {
		// 回答已经产生，并发扣减导致的余额不足只记录
		log.Warnw("[ConversationService] 交换成功但扣减额度失败", "userId", owner.ID, "threadId", ss.threadID, "error", err)
	}
	ss.enter(StateLogged)

	s.afterExchange(ctx, ss, entry, created, req.Message, answer.FirstText())
	return &MessageResult{ThreadID: ss.threadID, Response: []llm.Message{answer}}, nil
}

func (s *conversationService) runExchange(ctx context.Context, ss *session, message string) (llm.Message, error) {
	if err := ss.client.AppendMessage(ctx, ss.threadID, model.RoleUser, message); err != nil {
		return llm.Message{}, err
	}
	ss.enter(StateMessageSent)

	runID, err := ss.client.StartRun(ctx, ss.bot.AssistantID, ss.threadID)
	if err != nil {
		return llm.Message{}, err
	}
	ss.enter(StateRunStarted)

	err = poll.Until(ctx, s.cfg.PollInterval, s.cfg.MaxPollDuration, func(ctx context.Context) (bool, error) {
		ss.enter(StateRunPolling)
		run, err := ss.client.PollRun(ctx, ss.threadID, runID)
		if err != nil {
			return false, err
		}
		if !run.Status.Terminal() {
			return false, nil
		}
		if run.Status != llm.RunCompleted {
			detail := string(run.Status)
			if run.LastError != nil && run.LastError.Message != "" {
				detail += ": " + run.LastError.Message
			}
			return false, upstream(fmt.Sprintf("Assistant run %s", run.Status), fmt.Errorf("%w (%s)", ErrRunFailed, detail))
		}
		return true, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return llm.Message{}, upstream("Assistant run timed out", ErrRunTimedOut)
	}
	if err != nil {
		return llm.Message{}, err
	}
	ss.enter(StateRunCompleted)

	messages, err := ss.client.ListMessages(ctx, ss.threadID, model.RoleAssistant)
	if err != nil {
		return llm.Message{}, err
	}
	if len(messages) == 0 {
		return llm.Message{}, upstream("Assistant returned no answer", ErrRunFailed)
	}
	answer := SanitizeMessage(messages[0])
	ss.enter(StateResponseFetched)
	return answer, nil
}

// afterExchange 投递用量统计、检索索引和首条消息提醒，都不影响本次请求的结果。
func (s *conversationService) afterExchange(ctx context.Context, ss *session, entry *model.ChatLog, created bool, question, answer string) {
	trackUsage(ctx, s.dispatcher, ss.owner.ID, model.UsageDelta{
		Messages:   1,
		Characters: int64(model.CharacterCount(question)),
	})

	doc := model.ExchangeDocument{
		ExchangeID: uuid.NewString(),
		ThreadID:   ss.threadID,
		ChatbotID:  ss.bot.ID,
		UserID:     ss.owner.ID,
		Question:   question,
		Answer:     answer,
		CreatedAt:  time.Now(),
	}
	if err := tasks.Enqueue(ctx, s.dispatcher, tasks.TypeIndexExchange, doc); err != nil {
		log.Warnw("[ConversationService] 投递索引任务失败", "threadId", ss.threadID, "error", err)
	}

	if created {
		payload := tasks.EmailPayload{
			To:       ss.owner.Email,
			Template: mailer.TemplateFirstMessage,
			Data:     map[string]string{"message": question},
		}
		if err := tasks.Enqueue(ctx, s.dispatcher, tasks.TypeSendEmail, payload); err != nil {
			log.Warnw("[ConversationService] 投递首条消息邮件失败", "chatLogId", entry.ID, "error", err)
		}
	}
}

var citationPattern = regexp.MustCompile(`【[^】]*】`)

// StripCitations 去掉外部服务检索产生的 【...】 引用标记。
// 标记夹在两个词之间时替换成一个空格，其余情况直接删除并去掉标记前多余的空白。
func StripCitations(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range citationPattern.FindAllStringIndex(text, -1) {
		before, after := text[last:loc[0]], text[loc[1]:]
		next, _ := utf8.DecodeRuneInString(after)
		if after != "" && !unicode.IsSpace(next) && !unicode.IsPunct(next) {
			b.WriteString(before)
			if prev, _ := utf8.DecodeLastRuneInString(b.String()); b.Len() > 0 && !unicode.IsSpace(prev) {
				b.WriteByte(' ')
			}
		} else {
			b.WriteString(strings.TrimRight(before, " \t"))
		}
		last = loc[1]
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(b.String())
}

// SanitizeMessage 清洗消息中的每一段文本，并清空引用注解。
func SanitizeMessage(m llm.Message) llm.Message {
	content := make([]llm.MessageContent, len(m.Content))
	for i, c := range m.Content {
		if c.Text != nil {
			c.Text = &llm.MessageText{Value: StripCitations(c.Text.Value), Annotations: []json.RawMessage{}}
		}
		content[i] = c
	}
	m.Content = content
	return m
}
