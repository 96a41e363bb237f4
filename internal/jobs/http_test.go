package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(manager *Manager, publisher *Publisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api")
	{
		api.POST("/download", SubmitHandler(manager))
		api.POST("/batch-download", BatchSubmitHandler(manager, 1<<20))
		api.GET("/batch-download/zip", AllCompletedArchiveHandler(manager))
		api.GET("/downloads", ListHandler(manager))
		api.GET("/download/:id", StatusHandler(manager))
		api.GET("/download/:id/file", FileHandler(manager))
		api.GET("/batch/:id", BatchStatusHandler(manager))
		api.GET("/batch/:id/archive", BatchArchiveHandler(manager))
		api.GET("/events", EventsHandler(publisher))
	}
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v (body=%s)", err, w.Body.String())
	}
	return body
}

func TestSubmitHandlerAccepted(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	w := doJSON(t, router, http.MethodPost, "/api/download", gin.H{"url": "https://example.com/track1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d (body=%s)", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	jobID, _ := body["download_id"].(string)
	if jobID == "" {
		t.Fatalf("missing download_id: %v", body)
	}
	awaitJobs(t, manager)

	status := doJSON(t, router, http.MethodGet, "/api/download/"+jobID, nil)
	if status.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", status.Code)
	}
	record := decodeBody(t, status)
	if record["status"] != string(StatusCompleted) {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestSubmitHandlerInvalidJSON(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	req := httptest.NewRequest(http.MethodPost, "/api/download", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestSubmitHandlerInvalidURL(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	w := doJSON(t, router, http.MethodPost, "/api/download", gin.H{"url": "ftp://example.com/file"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != CodeInvalidInput {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusHandlerNotFound(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	w := doJSON(t, router, http.MethodGet, "/api/download/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != CodeNotFound {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFileHandlerNotReady(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	if err := manager.store.Create(&Record{ID: "job-1", Status: StatusDownloading}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	w := doJSON(t, router, http.MethodGet, "/api/download/job-1/file", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != CodeNotReady {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFileHandlerStreamsCompleted(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	w := doJSON(t, router, http.MethodPost, "/api/download", gin.H{"url": "https://example.com/track1"})
	jobID := decodeBody(t, w)["download_id"].(string)
	awaitJobs(t, manager)

	res := doJSON(t, router, http.MethodGet, "/api/download/"+jobID+"/file", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (body=%s)", res.Code, res.Body.String())
	}
	if res.Body.String() != "audio" {
		t.Fatalf("unexpected body: %q", res.Body.String())
	}
	if disposition := res.Header().Get("Content-Disposition"); !strings.Contains(disposition, "track1.mp3") {
		t.Fatalf("unexpected Content-Disposition: %s", disposition)
	}
	if res.Header().Get("X-Job-Id") != jobID {
		t.Fatalf("unexpected X-Job-Id: %s", res.Header().Get("X-Job-Id"))
	}
}

func TestBatchSubmitJSONAndArchive(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	w := doJSON(t, router, http.MethodPost, "/api/batch-download", gin.H{
		"urls": []string{"https://example.com/one", "https://example.com/two"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d (body=%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	batchID, _ := body["batch_id"].(string)
	if batchID == "" || body["count"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
	awaitJobs(t, manager)

	status := doJSON(t, router, http.MethodGet, "/api/batch/"+batchID, nil)
	if status.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", status.Code)
	}
	record := decodeBody(t, status)
	if record["status"] != string(BatchStatusCompleted) {
		t.Fatalf("unexpected batch: %v", record)
	}

	archive := doJSON(t, router, http.MethodGet, "/api/batch/"+batchID+"/archive", nil)
	if archive.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (body=%s)", archive.Code, archive.Body.String())
	}
	if contentType := archive.Header().Get("Content-Type"); contentType != "application/zip" {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	// アーカイブは永続化されているため再取得できる
	again := doJSON(t, router, http.MethodGet, "/api/batch/"+batchID+"/archive", nil)
	if again.Code != http.StatusOK {
		t.Fatalf("archive must be retrievable repeatedly: %d", again.Code)
	}
}

func TestBatchSubmitFileUpload(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "urls.csv")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte("url,memo\nhttps://example.com/one,first\nhttps://example.com/two,second\n")); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/batch-download", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d (body=%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["count"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
	awaitJobs(t, manager)
}

func TestAllCompletedArchiveEmpty(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	w := doJSON(t, router, http.MethodGet, "/api/batch-download/zip", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != CodeNoInputFiles {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAllCompletedArchiveCleansUpTempFile(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	w := doJSON(t, router, http.MethodPost, "/api/download", gin.H{"url": "https://example.com/one"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	awaitJobs(t, manager)

	before := tempArchiveCount(t)

	res := doJSON(t, router, http.MethodGet, "/api/batch-download/zip", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (body=%s)", res.Code, res.Body.String())
	}
	if res.Body.Len() == 0 {
		t.Fatal("expected archive bytes in response")
	}

	if after := tempArchiveCount(t); after != before {
		t.Fatalf("temp archive was not cleaned up: before=%d after=%d", before, after)
	}
}

func tempArchiveCount(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "downloads-*.zip"))
	if err != nil {
		t.Fatalf("failed to glob temp dir: %v", err)
	}
	return len(matches)
}

// closeNotifyRecorder は gin の Stream が要求する CloseNotify を補うレコーダーです。
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestEventsHandlerStreamsEvents(t *testing.T) {
	manager, publisher := newTestManager(t, newStubFetcher())
	router := newTestRouter(manager, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &closeNotifyRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}

	go func() {
		// 購読が立ち上がるのを待ってから発行・切断する
		for i := 0; i < 100 && publisher.SubscriberCount() == 0; i++ {
			time.Sleep(10 * time.Millisecond)
		}
		publisher.Publish(Event{Type: EventDownloadComplete, Payload: CompletePayload{
			JobID:    "job-1",
			Filename: "track.mp3",
		}})
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	router.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event:download_complete") {
		t.Fatalf("missing event line in stream: %q", body)
	}
	if !strings.Contains(body, "track.mp3") {
		t.Fatalf("missing payload in stream: %q", body)
	}
	if publisher.SubscriberCount() != 0 {
		t.Fatalf("subscriber was not released: %d", publisher.SubscriberCount())
	}
}
