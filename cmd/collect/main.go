package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/LJTian/Newsy/internal/collector"
	"github.com/LJTian/Newsy/internal/config"
	"github.com/LJTian/Newsy/internal/digest"
	"github.com/LJTian/Newsy/internal/ingest"
	"github.com/LJTian/Newsy/internal/mailer"
	"github.com/LJTian/Newsy/internal/storage"
	"github.com/LJTian/Newsy/internal/subscription"
)

// 只执行一次任务的命令行入口：适合手动触发抓取或补发邮件
var (
	cfg   *config.Config
	store *storage.Store

	flagTimeout time.Duration
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "newsy-collect",
	Short: "Run one Newsy job and exit",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		store, err = storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch every configured category once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		fetcher := collector.NewNewsDataFetcher(cfg.NewsDataAPIURL, cfg.NewsDataAPIKey, cfg.UpstreamTimeout)
		p := ingest.New(fetcher, store, ingest.Options{
			Categories: cfg.Categories,
			MaxAgeDays: cfg.MaxArticleAgeDays,
		})
		report := p.RunCycle(ctx)
		if flagJSON {
			return printJSON(report)
		}
		for _, r := range report.Results {
			fmt.Printf("%-14s %-9s fetched=%d stored=%d %s\n", r.Category, r.Outcome, r.Fetched, r.Stored, r.Reason)
		}
		return nil
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Send the daily newsletter once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

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
		report := batch.Run(ctx)
		if report.Err != nil {
			return report.Err
		}
		if flagJSON {
			return printJSON(report)
		}
		for _, r := range report.Results {
			fmt.Printf("%-32s %-8s articles=%d\n", r.Email, r.Status, r.Articles)
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 5*time.Minute, "overall timeout for the job")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print the report as JSON")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(digestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("newsy-collect: %v", err)
		os.Exit(1)
	}
}
