// Package mailer 通过 SMTP 发送模板邮件。
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/pkg/log"

	"gopkg.in/gomail.v2"
)

// 模板名。
const (
	TemplateWelcome       = "welcome"
	TemplateFirstMessage  = "first-message"
	TemplateCreditWarning = "credit-warning"
	TemplateCreditOver    = "credit-over"
)

// ErrUnknownTemplate 表示模板不存在。
var ErrUnknownTemplate = errors.New("mailer: unknown template")

type mailTemplate struct {
	subject string
	body    *template.Template
}

const layout = `<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">{{template "content" .}}<p><a href="{{.ClientURL}}">ChatFabrica</a></p></div>`

func parse(content string) *template.Template {
	t := template.Must(template.New("layout").Parse(layout))
	return template.Must(t.New("content").Parse(content))
}

var templates = map[string]mailTemplate{
	TemplateWelcome: {
		subject: "Welcome to ChatFabrica!",
		body:    parse(`<h2>Welcome to ChatFabrica!</h2><p>Your account is ready. Create your first chatbot and train it on your website.</p>`),
	},
	TemplateFirstMessage: {
		subject: "New message to your chat bot",
		body:    parse(`<h2>Your chatbot received its first message</h2><blockquote>{{.Data.message}}</blockquote>`),
	},
	TemplateCreditWarning: {
		subject: "Your ChatFabrica credit is running low.",
		body:    parse(`<h2>Credit warning</h2><p>You have used {{.Data.percent}}% of your message credits.</p>`),
	},
	TemplateCreditOver: {
		subject: "Your ChatFabrica credit is over.",
		body:    parse(`<h2>Your message credits are used up</h2><p>Your chatbots will stop answering until you upgrade your plan.</p>`),
	},
}

// Render 渲染模板，返回主题与 HTML 正文。
func Render(name, clientURL string, data map[string]string) (string, string, error) {
	tpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	var buf bytes.Buffer
	err := tpl.body.ExecuteTemplate(&buf, "layout", struct {
		ClientURL string
		Data      map[string]string
	}{ClientURL: clientURL, Data: data})
	if err != nil {
		return "", "", fmt.Errorf("mailer: render %s: %w", name, err)
	}
	return tpl.subject, buf.String(), nil
}

// Mailer 定义了发送模板邮件的接口。
type Mailer interface {
	Send(to, templateName string, data map[string]string) error
}

type smtpMailer struct {
	dialer    *gomail.Dialer
	from      string
	clientURL string
}

// NewMailer 创建一个基于 gomail 的 Mailer。
func NewMailer(cfg config.MailConfig) Mailer {
	return &smtpMailer{
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:      cfg.From,
		clientURL: cfg.ClientURL,
	}
}

func (m *smtpMailer) Send(to, templateName string, data map[string]string) error {
	subject, body, err := Render(templateName, m.clientURL, data)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		log.Errorw("[Mailer] 发送邮件失败", "to", to, "template", templateName, "error", err)
		return err
	}
	log.Infow("[Mailer] 邮件已发送", "to", to, "template", templateName)
	return nil
}
