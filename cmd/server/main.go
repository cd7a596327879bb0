package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thinkchat/thinkchat/config"
	"github.com/thinkchat/thinkchat/handlers"
	"github.com/thinkchat/thinkchat/internal/utils"
	"github.com/thinkchat/thinkchat/services"
	"github.com/thinkchat/thinkchat/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	fileStore, err := store.NewFileStore(cfg.DataDir, sugar)
	if err != nil {
		sugar.Fatalf("store: %v", err)
	}

	chatService := services.NewChatService(fileStore, services.NewOpenAIProvider(), sugar)

	router := setupRouter(cfg, fileStore, chatService, sugar)

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// chat responses are long-lived event streams, so no write
		// deadline
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("server crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("graceful shutdown failed: %v", err)
	}

	sugar.Info("server stopped cleanly")
}

func setupRouter(cfg *config.Config, fileStore *store.FileStore, chatService *services.ChatService, sugar *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handlers.NewChatHandler(cfg, chatService, sugar).RegisterRoutes(router)
	handlers.NewConversationHandler(fileStore, sugar).RegisterRoutes(router)
	router.NoRoute(handlers.ServeSPA(cfg.StaticDir))

	return router
}
