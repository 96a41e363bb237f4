// Package jobs はダウンロードジョブとバッチの状態管理・実行を提供します。
package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsTerminal は終端状態（completed / failed）かどうかを返します。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BatchStatus はバッチの集計状態を表します。
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// Record はジョブの現在状態を表します。
type Record struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	Title       string    `json:"title,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Filepath    string    `json:"filepath,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	FailedAt    time.Time `json:"failed_at,omitzero"`
}

// BatchRecord はバッチの現在状態を表します。
// JobIDs は作成時に確定し、以後変更されません。
type BatchRecord struct {
	ID              string      `json:"id"`
	Status          BatchStatus `json:"status"`
	JobIDs          []string    `json:"job_ids"`
	Total           int         `json:"total"`
	ArchivePath     string      `json:"archive_path,omitempty"`
	ArchiveFilename string      `json:"archive_filename,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	CompletedAt     time.Time   `json:"completed_at,omitzero"`
}
