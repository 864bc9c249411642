package handlers

import (
	"context"
	"net/http"
	"time"

	"botarena/auth"
	"botarena/gateway"
	"botarena/matcher"
	"botarena/middlewares"
	"botarena/models"
	"botarena/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handshaker は受け付けた接続の認証を行います。
type Handshaker interface {
	Handle(ctx context.Context, conn gateway.Conn) (*auth.Bot, error)
}

// CredentialCreator は新しいボットの認証情報を保存します。
type CredentialCreator interface {
	CreateCredential(ctx context.Context, credential *models.Credential) error
}

type QueueStats interface {
	Stats() map[matcher.Key]int
}

type ActiveSessions interface {
	Active() int
}

// Dependencies はルーターが必要とするコンポーネントです。
type Dependencies struct {
	// BaseContext は接続ごとの処理に渡す親コンテキストです。
	// リクエストのコンテキストはハンドラーが戻ると終わるので使いません。
	BaseContext context.Context

	Gateway        *gateway.Gateway
	Authenticator  Handshaker
	Credentials    CredentialCreator
	KnownGame      func(gameType string) bool
	Queues         QueueStats
	Sessions       ActiveSessions
	AdminSecret    []byte
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewRouter(deps Dependencies) *gin.Engine {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}

	router := gin.New()
	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(deps.Logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	corsConfig := cors.Config{
		AllowOrigins:     deps.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(deps.AllowedOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	router.GET("/ws", WebSocketHandler(deps.BaseContext, deps.Gateway, deps.Authenticator, deps.Logger))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/stats", StatsHandler(deps.Queues, deps.Sessions))

	admin := router.Group("/admin", middlewares.AuthMiddleware(deps.AdminSecret, deps.Logger))
	admin.POST("/bots", RegisterBot(deps.Credentials, deps.KnownGame, deps.Logger))

	return router
}
