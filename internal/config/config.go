package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config 默认值写在 defaults() 里，随后依次叠加 YAML 文件（CONFIG_FILE）和环境变量
type Config struct {
	AppPort string `yaml:"app_port" env:"APP_PORT"`

	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR"`

	NewsDataAPIURL  string        `yaml:"newsdata_api_url" env:"NEWSDATA_API_URL"`
	NewsDataAPIKey  string        `yaml:"newsdata_api_key" env:"NEWSDATA_API_KEY"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" env:"UPSTREAM_TIMEOUT"`

	Categories        []string `yaml:"categories" env:"NEWS_CATEGORIES" envSeparator:","`
	MaxArticleAgeDays int      `yaml:"max_article_age_days" env:"MAX_ARTICLE_AGE_DAYS"`

	FetchCron      string `yaml:"news_fetch_cron" env:"NEWS_FETCH_CRON"`
	NewsletterCron string `yaml:"newsletter_cron" env:"NEWSLETTER_CRON"`
	Timezone       string `yaml:"timezone" env:"APP_TIMEZONE"`
	FetchOnStartup bool   `yaml:"fetch_on_startup" env:"FETCH_ON_STARTUP"`

	MaxArticlesPerMail int `yaml:"max_articles_per_mail" env:"MAX_ARTICLES_PER_MAIL"`
	DigestWorkers      int `yaml:"digest_workers" env:"DIGEST_WORKERS"`

	AppBaseURL  string `yaml:"app_base_url" env:"APP_BASE_URL"`
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL"`

	SMTPHost     string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort     int    `yaml:"smtp_port" env:"SMTP_PORT"`
	SMTPUser     string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPass     string `yaml:"smtp_pass" env:"SMTP_PASS"`
	MailFrom     string `yaml:"mail_from" env:"MAIL_FROM"`
	MailFromName string `yaml:"mail_from_name" env:"MAIL_FROM_NAME"`
}

func defaults() *Config {
	return &Config{
		AppPort:            "9000",
		PostgresDSN:        "host=localhost user=newsy password=newsy dbname=newsy port=5432 sslmode=disable TimeZone=UTC",
		RedisAddr:          "localhost:6379",
		NewsDataAPIURL:     "https://newsdata.io/api/1/latest",
		UpstreamTimeout:    15 * time.Second,
		Categories:         []string{"technology", "sports", "business", "education", "entertainment"},
		MaxArticleAgeDays:  2,
		FetchCron:          "0 8 * * *",
		NewsletterCron:     "0 9 * * *",
		Timezone:           "UTC",
		MaxArticlesPerMail: 8,
		DigestWorkers:      4,
		AppBaseURL:         "http://localhost:8080",
		FrontendURL:        "http://localhost:4200",
		SMTPPort:           587,
		MailFrom:           "no-reply@newsy.local",
		MailFromName:       "Newsy",
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Categories = cleanCategories(cfg.Categories)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Printf("config loaded: port=%s categories=%v fetch_cron=%q newsletter_cron=%q tz=%s",
		cfg.AppPort, cfg.Categories, cfg.FetchCron, cfg.NewsletterCron, cfg.Timezone)
	if cfg.NewsDataAPIKey == "" {
		log.Printf("warn: NEWSDATA_API_KEY is empty, upstream requests will be rejected")
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func cleanCategories(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func (c *Config) validate() error {
	if len(c.Categories) == 0 {
		return errors.New("config: at least one news category is required")
	}
	if c.MaxArticleAgeDays <= 0 {
		return fmt.Errorf("config: MAX_ARTICLE_AGE_DAYS must be positive, got %d", c.MaxArticleAgeDays)
	}
	if c.MaxArticlesPerMail <= 0 {
		return fmt.Errorf("config: MAX_ARTICLES_PER_MAIL must be positive, got %d", c.MaxArticlesPerMail)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location 定时任务使用的时区，validate 已保证可解析
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
