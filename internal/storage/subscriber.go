package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscriber 邮件订阅者，Categories 为订阅的分类（小写）
type Subscriber struct {
	ID                uint                        `gorm:"primaryKey" json:"id"`
	Email             string                      `gorm:"size:320;uniqueIndex" json:"email"`
	Categories        datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"categories"`
	Verified          bool                        `gorm:"index" json:"verified"`
	Active            bool                        `gorm:"index" json:"active"`
	VerificationToken string                      `gorm:"size:64;uniqueIndex" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListVerifiedActiveSubscribers 返回已验证且仍处于订阅状态的用户（按创建顺序）
func (s *Store) ListVerifiedActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	var list []Subscriber
	err := s.DB.WithContext(ctx).
		Where("verified = ? AND active = ?", true, true).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (s *Store) FindSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	return s.findSubscriber(ctx, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) FindSubscriberByToken(ctx context.Context, token string) (*Subscriber, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}
	return s.findSubscriber(ctx, "verification_token = ?", token)
}

func (s *Store) findSubscriber(ctx context.Context, query string, args ...any) (*Subscriber, error) {
	sub := &Subscriber{}
	err := s.DB.WithContext(ctx).Where(query, args...).First(sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SaveSubscriber 新建或整体更新订阅者
func (s *Store) SaveSubscriber(ctx context.Context, sub *Subscriber) error {
	return s.DB.WithContext(ctx).Save(sub).Error
}
