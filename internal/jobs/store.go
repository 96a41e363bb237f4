package jobs

import (
	"fmt"
	"sync"
)

// Store はジョブ状態をメモリ上に保持します。
// すべての操作は同一IDに対して直列化され、取得結果はスナップショットコピーです。
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewStore は Store を作成します。
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
	}
}

// Create はジョブ情報を新規登録します。IDが重複している場合はエラーを返します。
func (s *Store) Create(record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.ID == "" {
		return fmt.Errorf("record.ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return newError(CodeDuplicateID, fmt.Sprintf("ジョブID %s は既に登録されています。", record.ID), nil)
	}

	clone := *record
	s.records[record.ID] = &clone
	s.order = append(s.order, record.ID)
	return nil
}

// Update はジョブ情報を原子的に更新し、更新後のスナップショットを返します。
func (s *Store) Update(id string, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, newError(CodeNotFound, fmt.Sprintf("ジョブID %s は存在しません。", id), nil)
	}

	mutate(record)
	clone := *record
	return &clone, nil
}

// Get はジョブ情報のスナップショットを取得します。
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, false
	}
	clone := *record
	return &clone, true
}

// List は全ジョブのスナップショットを登録順で返します。
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		clone := *s.records[id]
		records = append(records, &clone)
	}
	return records
}

// BatchStore はバッチ状態をメモリ上に保持します。契約は Store と同じです。
type BatchStore struct {
	mu      sync.RWMutex
	records map[string]*BatchRecord
	order   []string
}

// NewBatchStore は BatchStore を作成します。
func NewBatchStore() *BatchStore {
	return &BatchStore{
		records: make(map[string]*BatchRecord),
	}
}

// Create はバッチ情報を新規登録します。IDが重複している場合はエラーを返します。
func (s *BatchStore) Create(record *BatchRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.ID == "" {
		return fmt.Errorf("record.ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return newError(CodeDuplicateID, fmt.Sprintf("バッチID %s は既に登録されています。", record.ID), nil)
	}

	clone := cloneBatch(record)
	s.records[record.ID] = clone
	s.order = append(s.order, record.ID)
	return nil
}

// Update はバッチ情報を原子的に更新し、更新後のスナップショットを返します。
func (s *BatchStore) Update(id string, mutate func(*BatchRecord)) (*BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, newError(CodeNotFound, fmt.Sprintf("バッチID %s は存在しません。", id), nil)
	}

	mutate(record)
	return cloneBatch(record), nil
}

// Get はバッチ情報のスナップショットを取得します。
func (s *BatchStore) Get(id string) (*BatchRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, false
	}
	return cloneBatch(record), true
}

// List は全バッチのスナップショットを登録順で返します。
func (s *BatchStore) List() []*BatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*BatchRecord, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, cloneBatch(s.records[id]))
	}
	return records
}

// cloneBatch はメンバーID一覧まで含めた深いコピーを返します。
func cloneBatch(record *BatchRecord) *BatchRecord {
	clone := *record
	clone.JobIDs = append([]string(nil), record.JobIDs...)
	return &clone
}
