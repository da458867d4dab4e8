package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// AssistantParams 是新建助手的参数，工具固定为 file_search。
type AssistantParams struct {
	Name         string
	Instructions string
	Model        string
	Temperature  float64
}

// AssistantFields 是更新助手时的可选字段，nil 表示不修改。
type AssistantFields struct {
	Name         *string  `json:"name,omitempty"`
	Instructions *string  `json:"instructions,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// RunStatus 是一次 run 的状态。
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Terminal 判断 run 是否已经结束。requires_action 也视为结束：
// 助手只配置了 file_search，不会有需要客户端执行的工具调用。
func (s RunStatus) Terminal() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return false
	}
	return true
}

// Run 是外部服务中的一次执行。
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error,omitempty"`
}

// Message 与外部服务的消息结构保持一致，直接透传给前端。
type Message struct {
	ID          string           `json:"id"`
	Object      string           `json:"object,omitempty"`
	CreatedAt   int64            `json:"created_at"`
	ThreadID    string           `json:"thread_id"`
	Role        string           `json:"role"`
	Content     []MessageContent `json:"content"`
	AssistantID string           `json:"assistant_id,omitempty"`
	RunID       string           `json:"run_id,omitempty"`
}

type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

type MessageText struct {
	Value       string            `json:"value"`
	Annotations []json.RawMessage `json:"annotations"`
}

// FirstText 返回第一段文本内容，没有时返回空串。
func (m Message) FirstText() string {
	for _, c := range m.Content {
		if c.Text != nil {
			return c.Text.Value
		}
	}
	return ""
}

func (c *assistantsClient) CreateAssistant(ctx context.Context, params AssistantParams) (string, error) {
	body := map[string]interface{}{
		"name":         params.Name,
		"instructions": params.Instructions,
		"model":        params.Model,
		"temperature":  params.Temperature,
		"tools":        []map[string]string{{"type": "file_search"}},
	}
	var out idResponse
	if err := c.doJSON(ctx, "create assistant", http.MethodPost, "/assistants", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *assistantsClient) UpdateAssistant(ctx context.Context, assistantID string, fields AssistantFields) error {
	return c.doJSON(ctx, "update assistant", http.MethodPost, "/assistants/"+url.PathEscape(assistantID), fields, nil)
}

func (c *assistantsClient) DeleteAssistant(ctx context.Context, assistantID string) error {
	return c.doJSON(ctx, "delete assistant", http.MethodDelete, "/assistants/"+url.PathEscape(assistantID), nil, nil)
}
