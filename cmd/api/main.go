// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/audio-forge/internal/config"
	"github.com/yourusername/audio-forge/internal/fetch"
	"github.com/yourusername/audio-forge/internal/jobs"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 保存先ディレクトリを用意する
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		log.Fatalf("Failed to create download dir: %v", err)
	}
	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		log.Fatalf("Failed to create archive dir: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	manager, publisher, err := setupJobs(cfg)
	if err != nil {
		log.Fatalf("Failed to set up jobs: %v", err)
	}

	// ルーティングの設定
	setupRoutes(router, cfg, manager, publisher)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s, downloads: %s)", addr, cfg.GinMode, cfg.DownloadDir)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// setupJobs はフェッチャーとジョブ管理コンポーネントを配線します。
func setupJobs(cfg *config.Config) (*jobs.Manager, *jobs.Publisher, error) {
	publisher := jobs.NewPublisher(cfg.EventBufferSize)
	fetcher := fetch.NewYtDlpFetcher(cfg.AudioFormat, cfg.AudioQuality, cfg.FetchMaxRetries, log.Default())

	manager, err := jobs.NewManager(cfg, jobs.NewStore(), jobs.NewBatchStore(), fetcher, publisher, log.Default())
	if err != nil {
		return nil, nil, err
	}
	return manager, publisher, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"service":       "audio-forge-api",
			"version":       "0.1.0",
			"downloads_dir": cfg.DownloadDir,
		})
	}
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, manager *jobs.Manager, publisher *jobs.Publisher) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth(cfg))

	api := router.Group("/api")
	{
		api.POST("/download", jobs.SubmitHandler(manager))
		api.POST("/batch-download", jobs.BatchSubmitHandler(manager, cfg.MaxUploadSize))
		api.GET("/batch-download/zip", jobs.AllCompletedArchiveHandler(manager))
		api.GET("/downloads", jobs.ListHandler(manager))
		api.GET("/download/:id", jobs.StatusHandler(manager))
		api.GET("/download/:id/file", jobs.FileHandler(manager))
		api.GET("/batch/:id", jobs.BatchStatusHandler(manager))
		api.GET("/batch/:id/archive", jobs.BatchArchiveHandler(manager))
		api.GET("/events", jobs.EventsHandler(publisher))
	}
}
