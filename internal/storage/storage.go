package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrNotFound 查询的记录不存在
var ErrNotFound = errors.New("storage: record not found")

// Article 是唯一持久化的新闻实体，按分类整体替换
type Article struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Title      string `gorm:"size:512" json:"title"`
	Author     string `gorm:"size:256" json:"author"`
	SourceName string `gorm:"size:256" json:"sourceName"`
	URL        string `gorm:"size:2048" json:"url"`
	// PublishedResolved 为 false 表示上游日期无法解析、PublishedAt 只是兜底的当前时间
	PublishedAt       time.Time `gorm:"index:idx_news_articles_order,priority:2" json:"publishedAt"`
	PublishedResolved bool      `json:"-"`
	FetchedAt         time.Time `gorm:"index:idx_news_articles_order,priority:1" json:"fetchedAt"`
	Category          string    `gorm:"size:64;index" json:"category"`
	Description       string    `gorm:"type:text" json:"description"`
	ImageURL          string    `gorm:"size:2048" json:"imageUrl"`
	SourceIcon        string    `gorm:"size:2048" json:"sourceIcon"`
}

func (Article) TableName() string {
	return "news_articles"
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("warn: redis ping failed: %v", err)
		}
	}

	return NewStoreWithDB(db, rdb)
}

// NewStoreWithDB 使用已打开的连接建表，rdb 可以为 nil（不走缓存）
func NewStoreWithDB(db *gorm.DB, rdb *redis.Client) (*Store, error) {
	if err := db.AutoMigrate(&Article{}, &Subscriber{}); err != nil {
		return nil, err
	}
	return &Store{DB: db, Redis: rdb}, nil
}

// CanonicalCategory 分类的存储形式：首字母大写、其余小写，例如 "TECHNOLOGY" -> "Technology"
func CanonicalCategory(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// Close 释放数据库与 Redis 连接
func (s *Store) Close() error {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 数截断字符串，确保不会超过数据库字段长度。
// 上游偶尔返回超长标题或链接，这里是入库前的最后一道保护。
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

func sanitizeArticle(a *Article) {
	a.Title = truncateRunesDB(toValidUTF8(a.Title), 512)
	a.Author = truncateRunesDB(toValidUTF8(a.Author), 256)
	a.SourceName = truncateRunesDB(toValidUTF8(a.SourceName), 256)
	a.URL = truncateRunesDB(a.URL, 2048)
	a.Description = toValidUTF8(a.Description)
	a.ImageURL = truncateRunesDB(a.ImageURL, 2048)
	a.SourceIcon = truncateRunesDB(a.SourceIcon, 2048)
}

// ReplaceCategory 删除某分类下的全部文章后写入新的一批。
// 删除与写入在同一个事务里完成，读者不会看到中间的空窗口；
// 提交后递增该分类与全量列表的缓存代数，旧代数下的缓存不再被读取。
func (s *Store) ReplaceCategory(ctx context.Context, category string, articles []Article) error {
	category = CanonicalCategory(category)
	for i := range articles {
		articles[i].ID = 0
		articles[i].Category = category
		sanitizeArticle(&articles[i])
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category = ?", category).Delete(&Article{}).Error; err != nil {
			return fmt.Errorf("delete category %s: %w", category, err)
		}
		if len(articles) == 0 {
			return nil
		}
		if err := tx.Create(&articles).Error; err != nil {
			return fmt.Errorf("insert category %s: %w", category, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// 事务已提交，调用方的 ctx 即使取消也要完成代数递增
	s.bumpGeneration(context.WithoutCancel(ctx), categoryGenKey(category), allGenKey)
	return nil
}

const (
	allCacheKey = "news:all"
	allGenKey   = "news:gen:all"
	// 缓存 5 分钟；写入时递增代数使旧缓存失效，TTL 只负责回收旧代数的 key
	listCacheTTL = 5 * time.Minute
	// 单个分类缓存的最大条数，足够覆盖所有读取场景
	categoryCacheSize = 50
)

func categoryCacheKey(category string) string {
	return "news:category:" + strings.ToLower(strings.TrimSpace(category))
}

func categoryGenKey(category string) string {
	return "news:gen:category:" + strings.ToLower(strings.TrimSpace(category))
}

// versionedKey 把代数拼进缓存 key，替换提交后读者自然换到新 key
func versionedKey(base string, gen int64) string {
	return base + ":g" + strconv.FormatInt(gen, 10)
}

// ListByCategory 按 fetched_at、published_at 倒序返回某分类（忽略大小写）的前 limit 条
func (s *Store) ListByCategory(ctx context.Context, category string, limit int) ([]Article, error) {
	if limit <= 0 {
		return []Article{}, nil
	}
	category = CanonicalCategory(category)

	// 先读代数再查库：查询期间若有替换提交，结果只会写到已经过期的代数下
	gen, cacheable := s.cacheGeneration(ctx, categoryGenKey(category))
	key := versionedKey(categoryCacheKey(category), gen)

	var (
		list []Article
		ok   bool
	)
	if cacheable {
		list, ok = s.cachedList(ctx, key)
	}
	if !ok {
		list = []Article{}
		err := s.DB.WithContext(ctx).
			Where("category = ?", category).
			Order("fetched_at DESC").
			Order("published_at DESC").
			Limit(categoryCacheSize).
			Find(&list).Error
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.storeList(ctx, key, list)
		}
	}

	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ListAll 返回全部文章，排序规则与 ListByCategory 一致
func (s *Store) ListAll(ctx context.Context) ([]Article, error) {
	gen, cacheable := s.cacheGeneration(ctx, allGenKey)
	key := versionedKey(allCacheKey, gen)
	if cacheable {
		if list, ok := s.cachedList(ctx, key); ok {
			return list, nil
		}
	}

	list := []Article{}
	err := s.DB.WithContext(ctx).
		Order("fetched_at DESC").
		Order("published_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.storeList(ctx, key, list)
	}
	return list, nil
}

// cacheGeneration 读取缓存代数；未配置或读取失败时返回 false，调用方直接查库且不写缓存
func (s *Store) cacheGeneration(ctx context.Context, genKey string) (int64, bool) {
	if s.Redis == nil {
		return 0, false
	}
	gen, err := s.Redis.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		log.Printf("warn: redis get %s failed: %v", genKey, err)
		return 0, false
	}
	return gen, true
}

func (s *Store) bumpGeneration(ctx context.Context, genKeys ...string) {
	if s.Redis == nil {
		return
	}
	pipe := s.Redis.TxPipeline()
	for _, k := range genKeys {
		pipe.Incr(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("warn: redis bump %v failed: %v", genKeys, err)
	}
}

func (s *Store) cachedList(ctx context.Context, key string) ([]Article, bool) {
	if s.Redis == nil {
		return nil, false
	}
	bs, err := s.Redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cached []Article
	if err := json.Unmarshal(bs, &cached); err != nil {
		return nil, false
	}
	return cached, true
}

func (s *Store) storeList(ctx context.Context, key string, list []Article) {
	if s.Redis == nil || len(list) == 0 {
		return
	}
	if bs, err := json.Marshal(list); err == nil {
		_ = s.Redis.Set(ctx, key, bs, listCacheTTL).Err()
	}
}
