// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ダウンロード設定
	DownloadDir   string // 取得したファイルの保存先ディレクトリ
	ArchiveDir    string // バッチ成果物（zip）の保存先ディレクトリ
	MaxUploadSize int64  // アップロードされるURL一覧ファイルの最大サイズ（バイト）

	// フェッチャー設定
	FetchTimeoutMinutes int    // 1ジョブあたりの取得・変換のタイムアウト（分）
	FetchMaxRetries     int    // 一時的なネットワークエラーに対するリトライ回数
	AudioFormat         string // 変換後の音声フォーマット
	AudioQuality        string // 変換後の音声品質（ビットレート等）

	// イベント設定
	ProgressIntervalMS int // 進捗イベントの最小送出間隔（ミリ秒）
	EventBufferSize    int // 購読者チャネルのバッファサイズ
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ダウンロード設定
		DownloadDir:   getEnv("DOWNLOAD_DIR", filepath.Join(mustGetwd(), "downloads")),
		ArchiveDir:    getEnv("ARCHIVE_DIR", filepath.Join(mustGetwd(), "archives")),
		MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 16*1024*1024), // 16MB

		// フェッチャー設定
		FetchTimeoutMinutes: getEnvAsInt("FETCH_TIMEOUT_MINUTES", 30),
		FetchMaxRetries:     getEnvAsInt("FETCH_MAX_RETRIES", 2),
		AudioFormat:         getEnv("AUDIO_FORMAT", "mp3"),
		AudioQuality:        getEnv("AUDIO_QUALITY", "320K"),

		// イベント設定
		ProgressIntervalMS: getEnvAsInt("PROGRESS_INTERVAL_MS", 500),
		EventBufferSize:    getEnvAsInt("EVENT_BUFFER_SIZE", 64),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.DownloadDir == "" {
		return fmt.Errorf("DOWNLOAD_DIR is required")
	}
	if c.ArchiveDir == "" {
		return fmt.Errorf("ARCHIVE_DIR is required")
	}
	if c.FetchTimeoutMinutes <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_MINUTES must be positive")
	}
	if c.FetchMaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must not be negative")
	}
	if c.ProgressIntervalMS <= 0 {
		return fmt.Errorf("PROGRESS_INTERVAL_MS must be positive")
	}

	// ローカル開発ではCORS設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.CORSAllowedOrigins == "" {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS is required in release mode")
		}
	}

	return nil
}

func mustGetwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
