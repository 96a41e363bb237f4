package fetch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const (
	progressStep = 500 * time.Millisecond
	retryBackoff = 2 * time.Second
)

// YtDlpFetcher は yt-dlp バイナリを使って音声の取得と変換を行います。
type YtDlpFetcher struct {
	audioFormat  string
	audioQuality string
	maxRetries   int
	logger       *log.Logger
}

// NewYtDlpFetcher は YtDlpFetcher を作成します。
func NewYtDlpFetcher(audioFormat, audioQuality string, maxRetries int, logger *log.Logger) *YtDlpFetcher {
	if audioFormat == "" {
		audioFormat = "mp3"
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	return &YtDlpFetcher{
		audioFormat:  audioFormat,
		audioQuality: audioQuality,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// Probe はデータ転送を行わずに対象のタイトルを解決します。
func (f *YtDlpFetcher) Probe(ctx context.Context, rawURL string) (*Metadata, error) {
	dl := ytdlp.New().
		DumpJSON().
		NoPlaylist()

	result, err := dl.Run(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata probe failed: %w", err)
	}

	meta := &Metadata{}
	if info, infoErr := result.GetExtractedInfo(); infoErr == nil && len(info) > 0 && info[0].Title != nil {
		meta.Title = *info[0].Title
	}
	return meta, nil
}

// Fetch は音声を取得して指定フォーマットへ変換し、最終成果物のパスを返します。
func (f *YtDlpFetcher) Fetch(ctx context.Context, rawURL, destDir string, progress func(Progress)) (*Result, error) {
	dl := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(f.audioFormat).
		NoPlaylist().
		Output(filepath.Join(destDir, "%(title)s.%(ext)s"))
	if f.audioQuality != "" {
		dl = dl.AudioQuality(f.audioQuality)
	}

	if progress != nil {
		dl.ProgressFunc(progressStep, func(update ytdlp.ProgressUpdate) {
			progress(mapProgress(update))
		})
	}

	result, err := f.runWithRetry(ctx, dl, rawURL)
	if err != nil {
		return nil, err
	}

	outputPath, err := resolveOutputPath(reportedFilename(result), destDir, f.audioFormat)
	if err != nil {
		return nil, err
	}
	return &Result{OutputPath: outputPath}, nil
}

// runWithRetry は一時的な失敗に対して限られた回数だけ再試行します。
func (f *YtDlpFetcher) runWithRetry(ctx context.Context, dl *ytdlp.Command, rawURL string) (*ytdlp.Result, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			f.logger.Printf("retrying download, attempt %d: %s", attempt+1, rawURL)
		}

		result, err := dl.Run(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		f.logger.Printf("download attempt %d failed for %s: %v", attempt+1, rawURL, err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func reportedFilename(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		return ""
	}
	return *info[0].Filename
}

// resolveOutputPath は変換後の最終ファイルパスを確定します。
// yt-dlp が報告するファイル名は後処理前のものであることがあるため、
// 拡張子を変換後フォーマットへ差し替えて確認し、
// それでも見つからなければディレクトリ内の最新ファイルへフォールバックします。
func resolveOutputPath(reported, destDir, audioFormat string) (string, error) {
	ext := "." + audioFormat

	if reported != "" {
		converted := replaceExt(reported, ext)
		if _, err := os.Stat(converted); err == nil {
			return converted, nil
		}
		if _, err := os.Stat(reported); err == nil {
			return reported, nil
		}
	}

	fallback, err := newestWithExt(destDir, ext)
	if err != nil {
		return "", fmt.Errorf("output file could not be located in %s: %w", destDir, err)
	}
	return fallback, nil
}

func replaceExt(path, ext string) string {
	old := filepath.Ext(path)
	return strings.TrimSuffix(path, old) + ext
}

func newestWithExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var (
		newest     string
		newestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, entry.Name())
			newestTime = info.ModTime()
		}
	}

	if newest == "" {
		return "", fmt.Errorf("no %s file found", ext)
	}
	return newest, nil
}

// mapProgress は yt-dlp の進捗情報をコールバック用の形式へ変換します。
func mapProgress(update ytdlp.ProgressUpdate) Progress {
	p := Progress{Finished: update.Status == ytdlp.ProgressStatusFinished}

	if update.TotalBytes > 0 {
		p.Percent = int(float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100)
	}
	if p.Finished {
		p.Percent = 100
	}

	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started)
		if elapsed.Seconds() > 0 {
			bytesPerSecond := float64(update.DownloadedBytes) / elapsed.Seconds()
			p.Speed = fmt.Sprintf("%.1fMB/s", bytesPerSecond/1024/1024)
		}
	}

	if eta := update.ETA(); eta > 0 {
		p.ETA = formatETA(int(eta.Seconds()))
	}

	return p
}

// formatETA は秒数を hh:mm:ss または mm:ss 形式へ整形します。
func formatETA(sec int) string {
	hours := sec / 3600
	minutes := (sec % 3600) / 60
	seconds := sec % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
