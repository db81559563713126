package notification

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/nao1215/notice/internal/config"
	"github.com/nao1215/notice/internal/notification/analytics"
	"github.com/nao1215/notice/internal/notification/bulk"
	"github.com/nao1215/notice/internal/notification/db"
	"github.com/nao1215/notice/internal/notification/delivery"
	"github.com/nao1215/notice/internal/notification/feed"
	"github.com/nao1215/notice/internal/notification/preference"
	"github.com/nao1215/notice/pkg/metrics"
	"github.com/nao1215/notice/pkg/middleware"
)

// healthTimeout はヘルスチェックでのDB疎通確認の上限時間。
const healthTimeout = 2 * time.Second

// Services はハンドラが使う依存の集合。
type Services struct {
	DB          *sqlx.DB
	Queries     *db.Queries
	Preferences *preference.Service
	Feed        *feed.Engine
	Bulk        *bulk.Engine
	Analytics   *analytics.Aggregator
	Delivery    *delivery.Service
	// Digests は単一削除時にダイジェスト待ちのエントリを取り除く。nilなら何もしない。
	Digests bulk.Remover
	// Metrics がnilなら/metricsを公開しない。
	Metrics *metrics.Metrics
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	cfg    config.Config
	svc    Services
}

// NewServer はルーティングを設定したServerを生成する。
func NewServer(cfg config.Config, svc Services) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{router: router, cfg: cfg, svc: svc}
	s.setupRoutes(s.authMiddleware())
	return s
}

// Handler はhttp.Serverに渡すハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// authMiddleware は設定に応じて呼び出し元ユーザーを識別するミドルウェアを返す。
func (s *Server) authMiddleware() gin.HandlerFunc {
	if s.cfg.TrustUserHeader {
		return middleware.TrustedHeader()
	}
	return middleware.JWTAuth(s.cfg.JWTSecret)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	api := s.router.Group("/api/v1")

	user := api.Group("")
	user.Use(auth)
	{
		prefs := user.Group("/preferences")
		{
			prefs.GET("", s.handleGetPreferences())
			prefs.PUT("", s.handleUpdatePreferences())
			prefs.DELETE("", s.handleDeletePreferences())
		}

		notifications := user.Group("/notifications")
		{
			notifications.GET("", s.handleList())
			notifications.GET("/recent", s.handleRecent())
			notifications.GET("/unread-count", s.handleUnreadCount())
			notifications.GET("/stats", s.handleStats())

			notifications.PUT("/:id/read", s.handleSetRead(true))
			notifications.PUT("/:id/unread", s.handleSetRead(false))
			notifications.DELETE("/:id", s.handleDelete())

			notifications.POST("/bulk/read", s.handleBulk(bulk.OpMarkRead))
			notifications.POST("/bulk/unread", s.handleBulk(bulk.OpMarkUnread))
			notifications.POST("/bulk/delete", s.handleBulk(bulk.OpDelete))

			notifications.PUT("/read-all", s.handleMarkAllRead())
			notifications.DELETE("", s.handleDeleteAll())
			notifications.DELETE("/read", s.handleDeleteRead())
			notifications.DELETE("/type/:type", s.handleDeleteByType())
		}
	}

	// 上流のプロデューサーからの通知受け付け。トークン未設定なら公開しない
	if s.cfg.InternalToken != "" {
		internal := api.Group("/internal")
		internal.Use(middleware.StaticToken(s.cfg.InternalToken))
		{
			internal.POST("/notifications", s.handleIntake())
		}
	}

	s.router.GET("/health", s.handleHealth())
	if s.svc.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.svc.Metrics.Handler()))
	}
}

// handleHealth はDBに疎通できるか返すハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.svc.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()
			if err := s.svc.DB.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "notification"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	}
}
