package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/LJTian/Newsy/internal/storage"
)

var (
	ErrInvalidEmail  = errors.New("subscription: invalid email")
	ErrNoCategories  = errors.New("subscription: no known categories")
	ErrTokenNotFound = errors.New("subscription: token not found")
)

// Store 订阅者持久化
type Store interface {
	FindSubscriberByEmail(ctx context.Context, email string) (*storage.Subscriber, error)
	FindSubscriberByToken(ctx context.Context, token string) (*storage.Subscriber, error)
	SaveSubscriber(ctx context.Context, sub *storage.Subscriber) error
	ListVerifiedActiveSubscribers(ctx context.Context) ([]storage.Subscriber, error)
}

type VerificationSender interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
}

type Service struct {
	store  Store
	sender VerificationSender
	known  map[string]bool
	// newToken 测试中可替换
	newToken func() string
}

// NewService categories 为允许订阅的分类，大小写不敏感
func NewService(store Store, sender VerificationSender, categories []string) *Service {
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			known[c] = true
		}
	}
	return &Service{
		store:    store,
		sender:   sender,
		known:    known,
		newToken: uuid.NewString,
	}
}

// Subscribe 新建或刷新订阅，并发送验证邮件。
// 已存在的地址会更新分类、重新生成 token，并需要重新验证。
func (s *Service) Subscribe(ctx context.Context, email string, categories []string) (*storage.Subscriber, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	cats := s.filterCategories(categories)
	if len(cats) == 0 {
		return nil, ErrNoCategories
	}

	sub, err := s.store.FindSubscriberByEmail(ctx, addr)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sub = &storage.Subscriber{Email: addr}
	case err != nil:
		return nil, fmt.Errorf("subscription: lookup %s: %w", addr, err)
	}

	sub.Categories = cats
	sub.Verified = false
	sub.Active = true
	sub.VerificationToken = s.newToken()

	if err := s.store.SaveSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscription: save %s: %w", addr, err)
	}
	log.Printf("subscription: saved %s categories=%v", addr, cats)

	if err := s.sender.SendVerificationEmail(ctx, addr, sub.VerificationToken); err != nil {
		return sub, fmt.Errorf("subscription: send verification to %s: %w", addr, err)
	}
	return sub, nil
}

// Verify 确认订阅
func (s *Service) Verify(ctx context.Context, token string) (*storage.Subscriber, error) {
	sub, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	sub.Verified = true
	sub.Active = true
	if err := s.store.SaveSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscription: verify %s: %w", sub.Email, err)
	}
	log.Printf("subscription: verified %s", sub.Email)
	return sub, nil
}

// Unsubscribe 停止发送，记录保留
func (s *Service) Unsubscribe(ctx context.Context, token string) (*storage.Subscriber, error) {
	sub, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	sub.Active = false
	if err := s.store.SaveSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("subscription: unsubscribe %s: %w", sub.Email, err)
	}
	log.Printf("subscription: unsubscribed %s", sub.Email)
	return sub, nil
}

// VerifiedActive 供每日邮件任务使用
func (s *Service) VerifiedActive(ctx context.Context) ([]storage.Subscriber, error) {
	list, err := s.store.ListVerifiedActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscription: list subscribers: %w", err)
	}
	return list, nil
}

func (s *Service) byToken(ctx context.Context, token string) (*storage.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}
	sub, err := s.store.FindSubscriberByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("subscription: lookup token: %w", err)
	}
	return sub, nil
}

func (s *Service) filterCategories(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || !s.known[c] || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// normalizeEmail 只接受裸地址，不接受 "Name <addr>" 形式
func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}
