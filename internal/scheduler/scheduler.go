package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LJTian/Newsy/internal/digest"
	"github.com/LJTian/Newsy/internal/ingest"
)

// Ingestor 一轮新闻抓取
type Ingestor interface {
	RunCycle(ctx context.Context) ingest.CycleReport
}

// Digester 一轮订阅邮件发送
type Digester interface {
	Run(ctx context.Context) digest.BatchReport
}

type Options struct {
	FetchSpec      string
	NewsletterSpec string
	Location       *time.Location
	// StartupDelay > 0 时启动后延迟执行一次抓取
	StartupDelay time.Duration
}

type Scheduler struct {
	cron     *cron.Cron
	ingestor Ingestor
	digester Digester
	opts     Options

	// 每个任务一把锁，上一轮未结束时新的触发直接跳过
	fetchMu  sync.Mutex
	digestMu sync.Mutex
	stopping atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

func New(ingestor Ingestor, digester Digester, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	c := cron.New(cron.WithLocation(opts.Location))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:     c,
		ingestor: ingestor,
		digester: digester,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := c.AddFunc(opts.FetchSpec, s.fetchJob); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: fetch cron %q: %w", opts.FetchSpec, err)
	}
	if digester != nil {
		if _, err := c.AddFunc(opts.NewsletterSpec, s.digestJob); err != nil {
			cancel()
			return nil, fmt.Errorf("scheduler: newsletter cron %q: %w", opts.NewsletterSpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("scheduler started: fetch=%q newsletter=%q tz=%s",
		s.opts.FetchSpec, s.opts.NewsletterSpec, s.opts.Location)

	if s.opts.StartupDelay > 0 {
		// 延迟执行首轮抓取，避免和启动期的请求争抢资源
		s.timer = time.AfterFunc(s.opts.StartupDelay, s.fetchJob)
	}
}

// Stop 停止新的触发，并等待正在运行的任务结束（包括已经触发的启动抓取与手动任务）
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	if s.timer != nil {
		s.timer.Stop()
	}
	<-s.cron.Stop().Done()

	// 拿到锁说明当前轮次已结束；之后再抢到锁的调用会看到 stopping 直接返回
	s.fetchMu.Lock()
	s.fetchMu.Unlock()
	s.digestMu.Lock()
	s.digestMu.Unlock()
	s.cancel()
}

// RunIngestion 手动触发一轮抓取，与定时任务共用一把锁。
// 返回 false 表示已有一轮在运行，本次未执行。
func (s *Scheduler) RunIngestion(ctx context.Context) (ingest.CycleReport, bool) {
	if !s.fetchMu.TryLock() {
		log.Println("news fetch already running, skip")
		return ingest.CycleReport{}, false
	}
	defer s.fetchMu.Unlock()
	if s.stopping.Load() {
		log.Println("scheduler stopping, skip news fetch")
		return ingest.CycleReport{}, false
	}
	return s.ingestor.RunCycle(ctx), true
}

// RunDigest 手动触发一轮邮件发送
func (s *Scheduler) RunDigest(ctx context.Context) (digest.BatchReport, bool) {
	if s.digester == nil {
		return digest.BatchReport{}, false
	}
	if !s.digestMu.TryLock() {
		log.Println("newsletter job already running, skip")
		return digest.BatchReport{}, false
	}
	defer s.digestMu.Unlock()
	if s.stopping.Load() {
		log.Println("scheduler stopping, skip newsletter")
		return digest.BatchReport{}, false
	}
	return s.digester.Run(ctx), true
}

func (s *Scheduler) fetchJob() {
	log.Println("scheduled news fetch triggered")
	s.RunIngestion(s.ctx)
}

func (s *Scheduler) digestJob() {
	log.Println("scheduled newsletter triggered")
	s.RunDigest(s.ctx)
}
