package mailer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/LJTian/Newsy/internal/digest"
)

// Sender 服务端用到的全部发信能力
type Sender interface {
	SendNewsletter(ctx context.Context, to, subject string, entries []digest.Entry, unsubscribeToken string) error
	SendVerificationEmail(ctx context.Context, to, token string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	BaseURL  string
	Timeout  time.Duration
}

// New 配置了 SMTP 时走 SMTP，否则只打日志（本地开发用）
func New(cfg Config) Sender {
	if strings.TrimSpace(cfg.Host) == "" {
		log.Printf("mailer: SMTP not configured, emails will only be logged")
		return &LogMailer{Renderer: Renderer{BaseURL: cfg.BaseURL}}
	}
	return NewSMTPMailer(cfg)
}

type SMTPMailer struct {
	cfg      Config
	renderer Renderer
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &SMTPMailer{cfg: cfg, renderer: Renderer{BaseURL: cfg.BaseURL}}
}

func (m *SMTPMailer) SendNewsletter(ctx context.Context, to, subject string, entries []digest.Entry, unsubscribeToken string) error {
	log.Printf("sending newsletter email to %s", to)
	body, err := m.renderer.Newsletter(subject, entries, unsubscribeToken)
	if err != nil {
		return err
	}
	return m.send(ctx, to, subject, body)
}

func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, to, token string) error {
	body, err := m.renderer.Verification(to, token)
	if err != nil {
		return err
	}
	return m.send(ctx, to, VerificationSubject, body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	msg, err := m.buildMessage(to, subject, body)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mailer: new client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, err)
	}
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if m.cfg.FromName != "" {
		if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
			// 名字无法编码时退回只用地址
			if err := msg.From(m.cfg.From); err != nil {
				return nil, fmt.Errorf("mailer: from %q: %w", m.cfg.From, err)
			}
		}
	} else if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("mailer: from %q: %w", m.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("mailer: to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

// LogMailer 不真正发信，只把渲染结果的关键信息写到日志
type LogMailer struct {
	Renderer Renderer
}

func (l *LogMailer) SendNewsletter(ctx context.Context, to, subject string, entries []digest.Entry, unsubscribeToken string) error {
	if _, err := l.Renderer.Newsletter(subject, entries, unsubscribeToken); err != nil {
		return err
	}
	log.Printf("mailer(log): newsletter %q to %s with %d articles", subject, to, len(entries))
	return nil
}

func (l *LogMailer) SendVerificationEmail(ctx context.Context, to, token string) error {
	if _, err := l.Renderer.Verification(to, token); err != nil {
		return err
	}
	log.Printf("mailer(log): verification for %s: %s", to, l.Renderer.VerifyURL(token))
	return nil
}
