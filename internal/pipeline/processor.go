// Package pipeline 定义了后台任务的处理流程：发送邮件、累计用量、索引聊天记录。
package pipeline

import (
	"context"
	"fmt"

	"chatfabrica-go/internal/model"
	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/es"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/mailer"
	"chatfabrica-go/pkg/tasks"
)

// Processor 封装了后台任务的所有依赖和逻辑，实现 tasks.Processor。
type Processor struct {
	mailer        mailer.Mailer
	analyticsRepo repository.AnalyticsRepository
	index         es.ExchangeIndex
}

// NewProcessor 创建一个新的 Processor 实例。index 为 nil 时索引任务直接跳过。
func NewProcessor(m mailer.Mailer, analyticsRepo repository.AnalyticsRepository, index es.ExchangeIndex) *Processor {
	return &Processor{
		mailer:        m,
		analyticsRepo: analyticsRepo,
		index:         index,
	}
}

// Process 按任务类型分发处理。
func (p *Processor) Process(ctx context.Context, task tasks.Task) error {
	log.Infof("[Processor] 开始处理任务, id: %s, type: %s", task.ID, task.Type)

	switch task.Type {
	case tasks.TypeSendEmail:
		var payload tasks.EmailPayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		return p.sendEmail(payload)

	case tasks.TypeTrackUsage:
		var payload tasks.UsagePayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		if err := p.analyticsRepo.Increment(ctx, payload.UserID, payload.Delta); err != nil {
			return fmt.Errorf("累计用量失败: %w", err)
		}
		return nil

	case tasks.TypeIndexExchange:
		var doc model.ExchangeDocument
		if err := task.Decode(&doc); err != nil {
			return err
		}
		if p.index == nil {
			return nil
		}
		if err := p.index.IndexExchange(ctx, doc); err != nil {
			return fmt.Errorf("索引聊天记录失败: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s", tasks.ErrUnknownType, task.Type)
}

func (p *Processor) sendEmail(payload tasks.EmailPayload) error {
	if p.mailer == nil || payload.To == "" {
		log.Warnw("[Processor] 邮件任务缺少发送器或收件人，跳过", "template", payload.Template)
		return nil
	}
	return p.mailer.Send(payload.To, payload.Template, payload.Data)
}
