package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/internal/testutil"
	"chatfabrica-go/pkg/llm"
	"chatfabrica-go/pkg/secret"
	"chatfabrica-go/pkg/tasks"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeLLM 在内存里模拟外部 AI 服务。
type fakeLLM struct {
	mu sync.Mutex

	seq          int
	assistants   map[string]llm.AssistantParams
	updates      []llm.AssistantFields
	uploads      map[string]string
	uploadNames  map[string]string
	deleted      []string
	vectorStores map[string][]string
	attached     map[string]string
	threads      map[string][]string

	// runStatuses 依次作为 PollRun 的结果，用完后一直返回最后一个。
	runStatuses []llm.RunStatus
	polls       int
	answer      string
	failUpload  bool
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		assistants:   map[string]llm.AssistantParams{},
		uploads:      map[string]string{},
		uploadNames:  map[string]string{},
		vectorStores: map[string][]string{},
		attached:     map[string]string{},
		threads:      map[string][]string{},
		runStatuses:  []llm.RunStatus{llm.RunQueued, llm.RunInProgress, llm.RunCompleted},
		answer:       "ok",
	}
}

func (f *fakeLLM) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeLLM) ForUser(apiKey string) (llm.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, llm.ErrAPIKeyRequired
	}
	return f, nil
}

func (f *fakeLLM) CreateAssistant(_ context.Context, params llm.AssistantParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("asst")
	f.assistants[id] = params
	return id, nil
}

func (f *fakeLLM) UpdateAssistant(_ context.Context, _ string, fields llm.AssistantFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeLLM) DeleteAssistant(_ context.Context, assistantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assistants, assistantID)
	return nil
}

func (f *fakeLLM) UploadDocument(_ context.Context, localPath string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return "", &llm.APIError{Op: "upload", StatusCode: 500, Message: "boom"}
	}
	id := f.nextID("file")
	f.uploads[id] = string(content)
	f.uploadNames[id] = filepath.Base(localPath)
	return id, nil
}

func (f *fakeLLM) DeleteDocuments(_ context.Context, documentIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range documentIDs {
		delete(f.uploads, id)
		f.deleted = append(f.deleted, id)
	}
}

func (f *fakeLLM) BuildVectorStore(_ context.Context, _ string, documentIDs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("vs")
	f.vectorStores[id] = append([]string(nil), documentIDs...)
	return id, nil
}

func (f *fakeLLM) AttachVectorStore(_ context.Context, assistantID, vectorStoreID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[assistantID] = vectorStoreID
	return nil
}

func (f *fakeLLM) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("thread")
	f.threads[id] = nil
	return id, nil
}

func (f *fakeLLM) AppendMessage(_ context.Context, threadID, _, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[threadID] = append(f.threads[threadID], content)
	return nil
}

func (f *fakeLLM) StartRun(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = 0
	return f.nextID("run"), nil
}

func (f *fakeLLM) PollRun(_ context.Context, _, runID string) (*llm.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.runStatuses) {
		i = len(f.runStatuses) - 1
	}
	f.polls++
	return &llm.Run{ID: runID, Status: f.runStatuses[i]}, nil
}

func (f *fakeLLM) ListMessages(_ context.Context, threadID, role string) ([]llm.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := []llm.Message{
		{ID: "msg_a", ThreadID: threadID, Role: model.RoleAssistant, Content: []llm.MessageContent{
			{Type: "text", Text: &llm.MessageText{Value: f.answer, Annotations: nil}},
		}},
		{ID: "msg_u", ThreadID: threadID, Role: model.RoleUser},
	}
	if role == "" {
		return msgs, nil
	}
	var out []llm.Message
	for _, m := range msgs {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeLLM) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// recorder 记录投递的后台任务。
type recorder struct {
	mu    sync.Mutex
	tasks []tasks.Task
}

func (r *recorder) Dispatch(_ context.Context, task tasks.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recorder) ofType(typ tasks.Type) []tasks.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tasks.Task
	for _, t := range r.tasks {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func (r *recorder) emails(tb testing.TB) []tasks.EmailPayload {
	tb.Helper()
	var out []tasks.EmailPayload
	for _, t := range r.ofType(tasks.TypeSendEmail) {
		var p tasks.EmailPayload
		require.NoError(tb, t.Decode(&p))
		out = append(out, p)
	}
	return out
}

type fakeExtractor struct {
	text string
}

func (f fakeExtractor) ExtractText(_ context.Context, r io.Reader, _ string) (string, error) {
	if f.text != "" {
		return f.text, nil
	}
	b, err := io.ReadAll(r)
	return string(b), err
}

// harness 组装服务测试需要的全部依赖。
type harness struct {
	db          *gorm.DB
	box         *secret.Box
	llm         *fakeLLM
	gateway     *Gateway
	dispatcher  *recorder
	users       repository.UserRepository
	grants      repository.PlanGrantRepository
	chatbots    repository.ChatbotRepository
	chatLogs    repository.ChatLogRepository
	analytics   repository.AnalyticsRepository
	ingestion   config.IngestionConfig
	creditTable config.CreditsConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	box, err := secret.NewBox(strings.Repeat("k", 32))
	require.NoError(t, err)
	fake := newFakeLLM()
	defaults := config.Default()
	return &harness{
		db:          db,
		box:         box,
		llm:         fake,
		gateway:     NewGateway(box, fake),
		dispatcher:  &recorder{},
		users:       repository.NewUserRepository(db),
		grants:      repository.NewPlanGrantRepository(db),
		chatbots:    repository.NewChatbotRepository(db),
		chatLogs:    repository.NewChatLogRepository(db),
		analytics:   repository.NewAnalyticsRepository(db),
		ingestion:   defaults.Ingestion,
		creditTable: defaults.Credits,
	}
}

// owner 创建一个带密钥和一个额度窗口的用户，用户汇总额度等于窗口额度。
func (h *harness) owner(t *testing.T, grant testutil.GrantOptions) *model.User {
	t.Helper()
	sealed, err := h.box.Seal("sk-test")
	require.NoError(t, err)
	user := testutil.SeedUser(t, h.db, fmt.Sprintf("owner-%d@example.com", time.Now().UnixNano()), grant.Credits, sealed)
	testutil.SeedGrant(t, h.db, user.ID, grant)
	return user
}

func (h *harness) reloadUser(t *testing.T, id uint) *model.User {
	t.Helper()
	u, err := h.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (h *harness) reloadBot(t *testing.T, id uint) *model.Chatbot {
	t.Helper()
	bot, err := h.chatbots.FindByID(context.Background(), id)
	require.NoError(t, err)
	return bot
}

func (h *harness) creditService() CreditService {
	return NewCreditService(h.users, h.grants, h.dispatcher)
}

func (h *harness) trainingService() TrainingService {
	return NewTrainingService(h.users, h.grants, h.chatbots, h.gateway, h.dispatcher, h.ingestion)
}

func (h *harness) chatbotService() ChatbotService {
	return NewChatbotService(h.users, h.grants, h.chatbots, h.chatLogs, h.gateway, h.dispatcher, nil, nil, config.Default().OpenAI, h.creditTable)
}

func strPtr(s string) *string { return &s }
