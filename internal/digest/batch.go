package digest

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LJTian/Newsy/internal/storage"
)

// DefaultSubject 每日邮件标题
const DefaultSubject = "Your Newsy Daily"

const defaultWorkers = 4

// SubscriberSource 返回已验证且仍订阅中的用户
type SubscriberSource interface {
	VerifiedActive(ctx context.Context) ([]storage.Subscriber, error)
}

// Mailer 邮件发送方，发送失败返回错误，由调用方记录
type Mailer interface {
	SendNewsletter(ctx context.Context, to, subject string, entries []Entry, unsubscribeToken string) error
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// RecipientResult 单个接收人的处理结果
type RecipientResult struct {
	Email    string `json:"email"`
	Status   Status `json:"status"`
	Articles int    `json:"articles"`
	Err      error  `json:"-"`
}

type BatchReport struct {
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Results    []RecipientResult `json:"results"`
	// Err 只在拿不到订阅者列表时设置
	Err error `json:"-"`
}

func (r BatchReport) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Batch 定时邮件任务：逐个接收人编译并发送，单人失败不影响其他人
type Batch struct {
	subscribers SubscriberSource
	compiler    *Compiler
	mailer      Mailer
	subject     string
	workers     int
}

func NewBatch(subscribers SubscriberSource, compiler *Compiler, mailer Mailer, workers int) *Batch {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Batch{
		subscribers: subscribers,
		compiler:    compiler,
		mailer:      mailer,
		subject:     DefaultSubject,
		workers:     workers,
	}
}

func (b *Batch) Run(ctx context.Context) BatchReport {
	report := BatchReport{StartedAt: time.Now()}
	log.Println("start daily newsletter job...")

	subs, err := b.subscribers.VerifiedActive(ctx)
	if err != nil {
		log.Printf("newsletter: list subscribers error: %v", err)
		report.Err = err
		report.FinishedAt = time.Now()
		return report
	}
	log.Printf("newsletter: found %d verified active subscribers", len(subs))

	results := make([]RecipientResult, len(subs))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i := range subs {
		sub := subs[i]
		g.Go(func() error {
			results[i] = b.deliver(ctx, &sub)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	report.FinishedAt = time.Now()
	log.Printf("newsletter job done: sent=%d skipped=%d failed=%d",
		report.Count(StatusSent), report.Count(StatusSkipped), report.Count(StatusFailed))
	return report
}

func (b *Batch) deliver(ctx context.Context, sub *storage.Subscriber) (res RecipientResult) {
	res.Email = sub.Email
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("panic: %v", r)
			log.Printf("newsletter: unexpected error for %s: %v", sub.Email, r)
		}
	}()

	recipient := &Recipient{
		Email:            sub.Email,
		Categories:       sub.Categories,
		UnsubscribeToken: sub.VerificationToken,
	}
	entries, err := b.compiler.Compile(ctx, recipient)
	if err != nil {
		log.Printf("newsletter: compile for %s error: %v", sub.Email, err)
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Articles = len(entries)
	if len(entries) == 0 {
		log.Printf("newsletter: no articles for %s, skip send", sub.Email)
		res.Status = StatusSkipped
		return res
	}

	if err := b.mailer.SendNewsletter(ctx, sub.Email, b.subject, entries, sub.VerificationToken); err != nil {
		log.Printf("newsletter: send to %s error: %v", sub.Email, err)
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	log.Printf("newsletter: sent to %s with %d articles", sub.Email, len(entries))
	res.Status = StatusSent
	return res
}
