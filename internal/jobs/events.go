package jobs

import "sync"

// EventType はイベントチャネルに流れる通知の種別を表します。
type EventType string

const (
	EventDownloadProgress EventType = "download_progress"
	EventDownloadComplete EventType = "download_complete"
	EventDownloadError    EventType = "download_error"
	EventBatchComplete    EventType = "batch_complete"
)

// Event は購読者へ配信される通知です。
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ProgressPayload は download_progress イベントの内容です。
type ProgressPayload struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Percent int    `json:"percent,omitempty"`
	Speed   string `json:"speed,omitempty"`
	ETA     string `json:"eta,omitempty"`
}

// CompletePayload は download_complete イベントの内容です。
type CompletePayload struct {
	JobID    string `json:"job_id"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
}

// ErrorPayload は download_error イベントの内容です。
type ErrorPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// BatchCompletePayload は batch_complete イベントの内容です。
type BatchCompletePayload struct {
	BatchID         string `json:"batch_id"`
	ArchiveFilename string `json:"archive_filename"`
	CompletedCount  int    `json:"completed_count"`
	FailedCount     int    `json:"failed_count"`
}

// Publisher は接続中の購読者へイベントを配信します。
// 受信が追いつかない購読者がいても配信側はブロックしません。
type Publisher struct {
	mu         sync.Mutex
	subs       map[chan Event]struct{}
	bufferSize int
}

// NewPublisher は Publisher を作成します。
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Publisher{
		subs:       make(map[chan Event]struct{}),
		bufferSize: bufferSize,
	}
}

// Subscribe は新しい購読チャネルを登録して返します。
func (p *Publisher) Subscribe() chan Event {
	ch := make(chan Event, p.bufferSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe は購読チャネルを解除してクローズします。
func (p *Publisher) Unsubscribe(ch chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subs[ch]; !exists {
		return
	}
	delete(p.subs, ch)
	close(ch)
}

// Publish は全購読者へイベントを配信します。
// バッファが満杯の購読者へのイベントは破棄されます。
func (p *Publisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ch := range p.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount は現在の購読者数を返します。
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
