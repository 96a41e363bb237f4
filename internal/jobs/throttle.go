package jobs

import (
	"sync"
	"time"

	"github.com/yourusername/audio-forge/internal/fetch"
)

// progressThrottler はフェッチャーからの進捗報告をジョブ単位で間引きます。
// 間隔内の中間報告は破棄し、最終報告は間隔に関わらず必ず転送します。
type progressThrottler struct {
	jobID    string
	interval time.Duration
	forward  func(ProgressPayload)
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newProgressThrottler(jobID string, interval time.Duration, forward func(ProgressPayload)) *progressThrottler {
	return &progressThrottler{
		jobID:    jobID,
		interval: interval,
		forward:  forward,
		now:      time.Now,
	}
}

// Report はフェッチャーの進捗コールバックとして呼び出されます。
func (t *progressThrottler) Report(p fetch.Progress) {
	t.mu.Lock()
	now := t.now()
	if !p.Finished && !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return
	}
	t.last = now
	t.mu.Unlock()

	status := "downloading"
	if p.Finished {
		status = "finished"
	}

	t.forward(ProgressPayload{
		JobID:   t.jobID,
		Status:  status,
		Percent: p.Percent,
		Speed:   p.Speed,
		ETA:     p.ETA,
	})
}
