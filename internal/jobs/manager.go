package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/audio-forge/internal/config"
	"github.com/yourusername/audio-forge/internal/fetch"
)

// Manager はジョブの投入・実行・バッチ集計を担います。
// ジョブ1件につき1つのゴルーチンを起動し、それぞれ独立に終端状態まで実行します。
type Manager struct {
	cfg       *config.Config
	store     *Store
	batches   *BatchStore
	fetcher   fetch.Fetcher
	publisher *Publisher
	logger    *log.Logger
	now       func() time.Time

	// バッチ判定はバッチID単位で直列化する
	batchMu    sync.Mutex
	batchLocks map[string]*sync.Mutex

	// 将来のキャンセルAPIに備えてジョブ毎の CancelFunc を保持する
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, store *Store, batches *BatchStore, fetcher fetch.Fetcher, publisher *Publisher, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if batches == nil {
		return nil, errors.New("batches is nil")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is nil")
	}
	if publisher == nil {
		return nil, errors.New("publisher is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		batches:    batches,
		fetcher:    fetcher,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
		batchLocks: make(map[string]*sync.Mutex),
		cancels:    make(map[string]context.CancelFunc),
	}, nil
}

// Submit は1件のダウンロードジョブを登録し、バックグラウンドで実行を開始します。
func (m *Manager) Submit(rawURL, outputDir string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validateLocator(rawURL); err != nil {
		return "", err
	}

	dir, err := m.resolveOutputDir(outputDir)
	if err != nil {
		return "", err
	}

	jobID := uuid.NewString()
	record := &Record{
		ID:        jobID,
		URL:       rawURL,
		Status:    StatusPending,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Create(record); err != nil {
		return "", err
	}

	m.startJob(jobID, rawURL, dir, "")
	return jobID, nil
}

// SubmitBatch は複数URLを1つのバッチとして登録し、メンバー全件の実行を開始します。
// バッチレコードは全ジョブレコードより先に作成されます。
func (m *Manager) SubmitBatch(rawURLs []string, outputDir string) (string, []string, error) {
	cleaned := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := validateLocator(raw); err != nil {
			return "", nil, err
		}
		cleaned = append(cleaned, raw)
	}
	if len(cleaned) == 0 {
		return "", nil, newError(CodeInvalidInput, "有効なURLが1件もありません。", nil)
	}

	dir, err := m.resolveOutputDir(outputDir)
	if err != nil {
		return "", nil, err
	}

	batchID := uuid.NewString()
	jobIDs := make([]string, len(cleaned))
	for i := range cleaned {
		jobIDs[i] = uuid.NewString()
	}

	if err := m.batches.Create(&BatchRecord{
		ID:        batchID,
		Status:    BatchStatusProcessing,
		JobIDs:    jobIDs,
		Total:     len(cleaned),
		CreatedAt: m.now().UTC(),
	}); err != nil {
		return "", nil, err
	}

	for i, rawURL := range cleaned {
		record := &Record{
			ID:        jobIDs[i],
			URL:       rawURL,
			Status:    StatusPending,
			BatchID:   batchID,
			CreatedAt: m.now().UTC(),
		}
		if err := m.store.Create(record); err != nil {
			return "", nil, err
		}
	}

	for i, rawURL := range cleaned {
		m.startJob(jobIDs[i], rawURL, dir, batchID)
	}

	return batchID, jobIDs, nil
}

// GetJob はジョブ情報のスナップショットを取得します。
func (m *Manager) GetJob(jobID string) (*Record, bool) {
	return m.store.Get(jobID)
}

// ListJobs は全ジョブのスナップショットを返します。
func (m *Manager) ListJobs() []*Record {
	return m.store.List()
}

// GetBatch はバッチ情報のスナップショットを取得します。
func (m *Manager) GetBatch(batchID string) (*BatchRecord, bool) {
	return m.batches.Get(batchID)
}

// ListBatches は全バッチのスナップショットを返します。
func (m *Manager) ListBatches() []*BatchRecord {
	return m.batches.List()
}

// BuildAllCompletedArchive は完了済み全ジョブの一時アーカイブを作成し、そのパスを返します。
// 転送後の削除は呼び出し側の責任です。
func (m *Manager) BuildAllCompletedArchive() (string, error) {
	entries := completedEntries(m.store.List())
	if len(entries) == 0 {
		return "", newError(CodeNoInputFiles, "完了したダウンロードがありません。", nil)
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("downloads-%s.zip", uuid.NewString()))
	if err := buildArchive(path, entries, m.logger); err != nil {
		return "", err
	}
	return path, nil
}

// Shutdown は実行中のジョブが終端状態に達するまで待機します。
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) startJob(jobID, rawURL, outputDir, batchID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runJob(jobID, rawURL, outputDir, batchID)
	}()
}

// runJob は1ジョブを pending → downloading → completed/failed まで駆動します。
func (m *Manager) runJob(jobID, rawURL, outputDir, batchID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.FetchTimeoutMinutes)*time.Minute)
	m.registerCancel(jobID, cancel)
	defer m.releaseCancel(jobID)

	if _, err := m.store.Update(jobID, func(r *Record) {
		r.Status = StatusDownloading
		r.StartedAt = m.now().UTC()
	}); err != nil {
		m.logger.Printf("failed to mark job downloading job=%s: %v", jobID, err)
		return
	}

	if err := m.execute(ctx, jobID, rawURL, outputDir); err != nil {
		m.failJob(jobID, err)
	}

	if batchID != "" {
		m.checkBatch(batchID)
	}
}

func (m *Manager) execute(ctx context.Context, jobID, rawURL, outputDir string) error {
	meta, err := m.fetcher.Probe(ctx, rawURL)
	if err != nil {
		return newError(CodeFetchFailed, "メタデータの取得に失敗しました。", err)
	}
	if meta.Title != "" {
		if _, err := m.store.Update(jobID, func(r *Record) {
			r.Title = meta.Title
		}); err != nil {
			return err
		}
	}

	throttler := newProgressThrottler(jobID, time.Duration(m.cfg.ProgressIntervalMS)*time.Millisecond, func(p ProgressPayload) {
		m.publisher.Publish(Event{Type: EventDownloadProgress, Payload: p})
	})

	result, err := m.fetcher.Fetch(ctx, rawURL, outputDir, throttler.Report)
	if err != nil {
		return newError(CodeFetchFailed, "ダウンロードに失敗しました。", err)
	}

	// フェッチャーが成功を報告してもファイルが無ければ失敗として扱う
	if _, statErr := os.Stat(result.OutputPath); statErr != nil {
		return newError(CodeFetchFailed, fmt.Sprintf("成果物ファイルが見つかりません: %s", result.OutputPath), statErr)
	}

	filename := filepath.Base(result.OutputPath)
	if _, err := m.store.Update(jobID, func(r *Record) {
		r.Status = StatusCompleted
		r.Filename = filename
		r.Filepath = result.OutputPath
		r.CompletedAt = m.now().UTC()
	}); err != nil {
		return err
	}

	m.publisher.Publish(Event{Type: EventDownloadComplete, Payload: CompletePayload{
		JobID:    jobID,
		Title:    meta.Title,
		Filename: filename,
	}})
	m.logger.Printf("job %s completed: %s", jobID, filename)
	return nil
}

func (m *Manager) failJob(jobID string, cause error) {
	message := cause.Error()
	if _, err := m.store.Update(jobID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = message
		r.FailedAt = m.now().UTC()
	}); err != nil {
		m.logger.Printf("failed to mark job failed job=%s: %v", jobID, err)
		return
	}

	m.publisher.Publish(Event{Type: EventDownloadError, Payload: ErrorPayload{
		JobID: jobID,
		Error: message,
	}})
	m.logger.Printf("job %s failed: %v", jobID, cause)
}

// checkBatch はメンバーの終端遷移を受けてバッチの集計状態を再判定します。
// 終端済みバッチへの再呼び出しは何もしません（冪等）。
func (m *Manager) checkBatch(batchID string) {
	lock := m.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	batch, ok := m.batches.Get(batchID)
	if !ok {
		return
	}
	if batch.Status != BatchStatusProcessing {
		return
	}

	var completed []*Record
	failedCount := 0
	for _, jobID := range batch.JobIDs {
		record, ok := m.store.Get(jobID)
		if !ok {
			m.logger.Printf("batch %s references unknown job %s", batchID, jobID)
			failedCount++
			continue
		}
		switch record.Status {
		case StatusCompleted:
			completed = append(completed, record)
		case StatusFailed:
			failedCount++
		default:
			// 未終端のメンバーが残っている間は判定しない
			return
		}
	}

	if len(completed) == 0 {
		if _, err := m.batches.Update(batchID, func(b *BatchRecord) {
			b.Status = BatchStatusFailed
			b.Error = "完了したジョブが1件もありません。"
			b.CompletedAt = m.now().UTC()
		}); err != nil {
			m.logger.Printf("failed to mark batch failed batch=%s: %v", batchID, err)
		}
		return
	}

	archiveFilename := fmt.Sprintf("batch-%s-%s.zip", shortID(batchID), m.now().UTC().Format("20060102-150405"))
	archivePath := filepath.Join(m.cfg.ArchiveDir, archiveFilename)

	if err := buildArchive(archivePath, completedEntries(completed), m.logger); err != nil {
		m.logger.Printf("batch %s archive assembly failed: %v", batchID, err)
		if _, updateErr := m.batches.Update(batchID, func(b *BatchRecord) {
			b.Status = BatchStatusFailed
			b.Error = err.Error()
			b.CompletedAt = m.now().UTC()
		}); updateErr != nil {
			m.logger.Printf("failed to mark batch failed batch=%s: %v", batchID, updateErr)
		}
		return
	}

	if _, err := m.batches.Update(batchID, func(b *BatchRecord) {
		b.Status = BatchStatusCompleted
		b.ArchivePath = archivePath
		b.ArchiveFilename = archiveFilename
		b.CompletedAt = m.now().UTC()
	}); err != nil {
		m.logger.Printf("failed to mark batch completed batch=%s: %v", batchID, err)
		return
	}

	m.publisher.Publish(Event{Type: EventBatchComplete, Payload: BatchCompletePayload{
		BatchID:         batchID,
		ArchiveFilename: archiveFilename,
		CompletedCount:  len(completed),
		FailedCount:     failedCount,
	}})
	m.logger.Printf("batch %s completed: %d succeeded, %d failed", batchID, len(completed), failedCount)
}

func (m *Manager) batchLock(batchID string) *sync.Mutex {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	lock, ok := m.batchLocks[batchID]
	if !ok {
		lock = &sync.Mutex{}
		m.batchLocks[batchID] = lock
	}
	return lock
}

func (m *Manager) registerCancel(jobID string, cancel context.CancelFunc) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	m.cancels[jobID] = cancel
}

func (m *Manager) releaseCancel(jobID string) {
	m.cancelMu.Lock()
	cancel, ok := m.cancels[jobID]
	delete(m.cancels, jobID)
	m.cancelMu.Unlock()

	if ok {
		cancel()
	}
}

func (m *Manager) resolveOutputDir(override string) (string, error) {
	dir := strings.TrimSpace(override)
	if dir == "" {
		dir = m.cfg.DownloadDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("保存先ディレクトリの作成に失敗しました: %w", err)
	}
	return dir, nil
}

func validateLocator(rawURL string) error {
	if rawURL == "" {
		return newError(CodeInvalidInput, "URLを指定してください。", nil)
	}
	if !isLocator(rawURL) {
		return newError(CodeInvalidInput, fmt.Sprintf("URLの形式が正しくありません: %s", rawURL), nil)
	}
	return nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
