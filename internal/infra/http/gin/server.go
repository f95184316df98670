package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"blockhyre/internal/infra/config"
	"blockhyre/internal/infra/obs"
)

type Handlers struct {
	Auth           AuthHTTP
	Chat           ChatHTTP
	Listing        ListingHTTP
	Feed           FeedHTTP
	Payments       PaymentsHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/auth/me", h.Auth.Me)
	}
	if h.Listing != nil {
		api.GET("/listings/:id", h.Listing.Get)
		api.POST("/listings", h.Listing.Create)
		api.GET("/owner/listings", h.Listing.Mine)
	}
	if h.Chat != nil {
		api.GET("/conversations", h.Chat.ListMyConversations)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.POST("/conversations/:id/read", h.Chat.MarkRead)
		api.GET("/conversations/unread", h.Chat.UnreadCount)
		api.POST("/listings/:id/contact", h.Chat.ContactListing)
	}
	if h.Feed != nil {
		api.GET("/feed", h.Feed.Stream)
	}
	if h.Payments != nil {
		api.POST("/payments/webhook", h.Payments.Confirm)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
