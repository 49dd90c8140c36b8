package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/Newsy/internal/ingest"
	"github.com/LJTian/Newsy/internal/processor"
	"github.com/LJTian/Newsy/internal/retrieval"
	"github.com/LJTian/Newsy/internal/storage"
	"github.com/LJTian/Newsy/internal/subscription"
)

// NewsReader 对应 retrieval.Service
type NewsReader interface {
	GetByCategory(ctx context.Context, category string) ([]storage.Article, error)
	GetAll(ctx context.Context) (retrieval.Overview, error)
}

// FetchTrigger 手动触发抓取，返回 false 表示已有一轮在运行
type FetchTrigger interface {
	RunIngestion(ctx context.Context) (ingest.CycleReport, bool)
}

type Subscriptions interface {
	Subscribe(ctx context.Context, email string, categories []string) (*storage.Subscriber, error)
	Verify(ctx context.Context, token string) (*storage.Subscriber, error)
	Unsubscribe(ctx context.Context, token string) (*storage.Subscriber, error)
}

type Server struct {
	news          NewsReader
	trigger       FetchTrigger
	subscriptions Subscriptions
	frontendURL   string
}

func NewServer(news NewsReader, trigger FetchTrigger, subs Subscriptions, frontendURL string) *Server {
	return &Server{news: news, trigger: trigger, subscriptions: subs, frontendURL: frontendURL}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.Use(s.cors())
	r.GET("/health", s.health)

	news := r.Group("/api/news")
	{
		news.GET("", s.listAll)
		news.GET("/:category", s.listByCategory)
		news.POST("/fetch", s.manualFetch)
	}

	subs := r.Group("/api/subscriptions")
	{
		subs.POST("", s.subscribe)
		subs.GET("/verify", s.verify)
		subs.GET("/unsubscribe", s.unsubscribe)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	origin := s.frontendURL
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listByCategory(c *gin.Context) {
	category := processor.NormalizeCategory(c.Param("category"))
	log.Printf("api: get news for category %s", category)

	articles, err := s.news.GetByCategory(c.Request.Context(), category)
	if err != nil {
		log.Printf("api: get news for %s error: %v", category, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch news for category: " + category})
		return
	}

	if len(articles) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"message":  "No news found for category: " + category,
			"category": category,
			"articles": []storage.Article{},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"category": category,
		"count":    len(articles),
		"articles": articles,
	})
}

func (s *Server) listAll(c *gin.Context) {
	overview, err := s.news.GetAll(c.Request.Context())
	if err != nil {
		log.Printf("api: get all news error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch news"})
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) manualFetch(c *gin.Context) {
	log.Println("api: manual news fetch triggered")
	// 客户端断开不应中断正在写库的抓取
	ctx := context.WithoutCancel(c.Request.Context())
	report, ran := s.trigger.RunIngestion(ctx)
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"error": "News fetch already in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "News fetch completed",
		"timestamp": time.Now().UTC(),
		"results":   report.Results,
	})
}

type subscribeRequest struct {
	Email      string   `json:"email"`
	Categories []string `json:"categories"`
}

func (s *Server) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	sub, err := s.subscriptions.Subscribe(c.Request.Context(), req.Email, req.Categories)
	switch {
	case errors.Is(err, subscription.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid email address"})
		return
	case errors.Is(err, subscription.ErrNoCategories):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Select at least one valid category"})
		return
	case err != nil && sub != nil:
		log.Printf("api: subscribe %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send verification email"})
		return
	case err != nil:
		log.Printf("api: subscribe %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Subscription received, please check your email to confirm",
		"email":      sub.Email,
		"categories": sub.Categories,
	})
}

func (s *Server) verify(c *gin.Context) {
	s.tokenAction(c, "verify subscription", "Subscription confirmed", s.subscriptions.Verify)
}

func (s *Server) unsubscribe(c *gin.Context) {
	s.tokenAction(c, "unsubscribe", "You have been unsubscribed", s.subscriptions.Unsubscribe)
}

func (s *Server) tokenAction(c *gin.Context, op, okMessage string,
	fn func(ctx context.Context, token string) (*storage.Subscriber, error)) {
	sub, err := fn(c.Request.Context(), c.Query("token"))
	if errors.Is(err, subscription.ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Invalid or expired token"})
		return
	}
	if err != nil {
		log.Printf("api: %s error: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": okMessage, "email": sub.Email})
}
