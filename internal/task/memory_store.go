package task

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SpriteForge/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，用于测试与单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch job.Status {
	case StatusSucceeded:
		return cloneJob(job), ErrJobCompleted
	case StatusRunning, StatusFailed:
		return cloneJob(job), ErrJobConflict
	}
	if job.Attempts >= job.MaxRetries {
		return cloneJob(job), ErrJobExhausted
	}
	job.Status = StatusRunning
	job.Attempts++
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = time.Now().Unix()
	return cloneJob(job), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Result = &result
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记任务失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusPending
	if terminal {
		job.Status = StatusFailed
	}
	job.LastError = lastError
	job.ErrorCode = string(code)
	job.UpdatedAt = time.Now().Unix()
	return nil
}

// CountActive 实现 Store 接口。
func (m *MemoryStore) CountActive(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, job := range m.jobs {
		if job.UserID == userID && job.Active() {
			count++
		}
	}
	return count, nil
}

// List 返回符合条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if !matchesListFilters(job, opts) {
			continue
		}
		results = append(results, cloneJob(job))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Job{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(job *Job, opts ListOptions) bool {
	if opts.UserID != "" && job.UserID != opts.UserID {
		return false
	}
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if job.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && job.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
