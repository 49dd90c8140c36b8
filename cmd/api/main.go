package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/Newsy/internal/api"
	"github.com/LJTian/Newsy/internal/collector"
	"github.com/LJTian/Newsy/internal/config"
	"github.com/LJTian/Newsy/internal/digest"
	"github.com/LJTian/Newsy/internal/ingest"
	"github.com/LJTian/Newsy/internal/mailer"
	"github.com/LJTian/Newsy/internal/retrieval"
	"github.com/LJTian/Newsy/internal/scheduler"
	"github.com/LJTian/Newsy/internal/storage"
	"github.com/LJTian/Newsy/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}
	defer store.Close()

	fetcher := collector.NewNewsDataFetcher(cfg.NewsDataAPIURL, cfg.NewsDataAPIKey, cfg.UpstreamTimeout)
	pipeline := ingest.New(fetcher, store, ingest.Options{
		Categories: cfg.Categories,
		MaxAgeDays: cfg.MaxArticleAgeDays,
	})

	mail := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
		BaseURL:  cfg.AppBaseURL,
	})
	subs := subscription.NewService(store, mail, cfg.Categories)
	batch := digest.NewBatch(subs, digest.NewCompiler(store, cfg.MaxArticlesPerMail), mail, cfg.DigestWorkers)

	opts := scheduler.Options{
		FetchSpec:      cfg.FetchCron,
		NewsletterSpec: cfg.NewsletterCron,
		Location:       cfg.Location(),
	}
	if cfg.FetchOnStartup {
		opts.StartupDelay = 15 * time.Second
	}
	s, err := scheduler.New(pipeline, batch, opts)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.Start()
	defer s.Stop()

	r := gin.Default()
	apiServer := api.NewServer(retrieval.NewService(store), s, subs, cfg.FrontendURL)
	apiServer.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("starting api server at %s ...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server exit: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down api server ...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
