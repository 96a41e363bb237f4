package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// SubmitHandler は POST /api/download のハンドラーを返します。
// 受理した時点で202を返し、結果はポーリングまたはイベントチャネルで通知します。
func SubmitHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			URL       string `json:"url"`
			OutputDir string `json:"output_dir"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "JSON形式で url を指定してください。",
			})
			return
		}

		jobID, err := manager.Submit(req.URL, req.OutputDir)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"success":     true,
			"download_id": jobID,
			"message":     "Download started",
		})
	}
}

// BatchSubmitHandler は POST /api/batch-download のハンドラーを返します。
// JSONのURL配列、または1列目にURLを持つ区切りファイルのアップロードを受け付けます。
func BatchSubmitHandler(manager *Manager, maxUploadSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			urls      []string
			outputDir string
		)

		if c.ContentType() == "multipart/form-data" {
			fileHeader, err := c.FormFile("file")
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "URL一覧ファイルを選択してください。",
				})
				return
			}
			if maxUploadSize > 0 && fileHeader.Size > maxUploadSize {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"code":    "LIMIT_EXCEEDED",
					"message": "アップロードファイルのサイズ上限を超えています。",
				})
				return
			}

			file, err := fileHeader.Open()
			if err != nil {
				respondWithError(c, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err))
				return
			}
			defer file.Close()

			urls, err = parseLocatorFile(file)
			if err != nil {
				respondWithError(c, err)
				return
			}
			outputDir = c.PostForm("output_dir")
		} else {
			var req struct {
				URLs      []string `json:"urls"`
				OutputDir string   `json:"output_dir"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "JSON形式で urls を指定してください。",
				})
				return
			}
			urls = req.URLs
			outputDir = req.OutputDir
		}

		batchID, jobIDs, err := manager.SubmitBatch(urls, outputDir)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"success":      true,
			"batch_id":     batchID,
			"download_ids": jobIDs,
			"count":        len(jobIDs),
			"message":      fmt.Sprintf("Started %d downloads", len(jobIDs)),
		})
	}
}

// ListHandler は GET /api/downloads のハンドラーを返します。
func ListHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"downloads": manager.ListJobs(),
			"batches":   manager.ListBatches(),
		})
	}
}

// StatusHandler は GET /api/download/:id のハンドラーを返します。
func StatusHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := manager.GetJob(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "指定されたダウンロードは存在しません。",
			})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// FileHandler は GET /api/download/:id/file のハンドラーを返します。
// completed 以外の状態ではファイルを返しません。
func FileHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := manager.GetJob(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "指定されたダウンロードは存在しません。",
			})
			return
		}
		if record.Status != StatusCompleted {
			respondWithError(c, newError(CodeNotReady, "ダウンロードがまだ完了していません。", nil))
			return
		}

		contentType := "application/octet-stream"
		if mt, err := mimetype.DetectFile(record.Filepath); err == nil {
			contentType = mt.String()
		}

		if err := streamFile(c, record.Filepath, record.Filename, contentType, record.ID); err != nil {
			respondWithError(c, newError(CodeNotFound, "成果物ファイルが見つかりませんでした。", err))
		}
	}
}

// BatchStatusHandler は GET /api/batch/:id のハンドラーを返します。
func BatchStatusHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := manager.GetBatch(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "指定されたバッチは存在しません。",
			})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// BatchArchiveHandler は GET /api/batch/:id/archive のハンドラーを返します。
// バッチアーカイブは永続化されているため、何度でも取得できます。
func BatchArchiveHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := manager.GetBatch(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "指定されたバッチは存在しません。",
			})
			return
		}
		if record.Status != BatchStatusCompleted {
			respondWithError(c, newError(CodeNotReady, "バッチがまだ完了していません。", nil))
			return
		}

		if err := streamFile(c, record.ArchivePath, record.ArchiveFilename, "application/zip", record.ID); err != nil {
			respondWithError(c, newError(CodeNotFound, "バッチのアーカイブが見つかりませんでした。", err))
		}
	}
}

// AllCompletedArchiveHandler は GET /api/batch-download/zip のハンドラーを返します。
// 完了済み全ジョブのアーカイブをその場で組み立て、転送後に一時ファイルを削除します。
func AllCompletedArchiveHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := manager.BuildAllCompletedArchive()
		if err != nil {
			respondWithError(c, err)
			return
		}
		// 転送の成否に関わらず一時ファイルは削除する
		defer os.Remove(path)

		downloadName := fmt.Sprintf("downloads-%s.zip", time.Now().UTC().Format("20060102-150405"))
		if err := streamFile(c, path, downloadName, "application/zip", ""); err != nil {
			respondWithError(c, newError(CodeAssemblyFailed, "アーカイブの読み込みに失敗しました。", err))
		}
	}
}

// EventsHandler は GET /api/events のハンドラーを返します。
// 接続中はイベントチャネルの内容をSSEで送出し続けます。
func EventsHandler(publisher *Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch := publisher.Subscribe()
		defer publisher.Unsubscribe(ch)

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case event, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(string(event.Type), event.Payload)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

func streamFile(c *gin.Context, path, downloadName, contentType, jobID string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	encodedName := url.PathEscape(downloadName)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", downloadName, encodedName))
	c.Header("Cache-Control", "no-store")
	if jobID != "" {
		c.Header("X-Job-Id", jobID)
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	return nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case CodeNotFound, CodeNoInputFiles:
			status = http.StatusNotFound
		case CodeNotReady:
			status = http.StatusConflict
		case CodeFetchFailed, CodeAssemblyFailed, CodeDuplicateID:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
