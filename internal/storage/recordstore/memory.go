package recordstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	xerrors "SpriteForge/internal/errors"
)

// MemoryRepository 在内存中保存记录，可选地追加写入本地 JSONL 文件以便重启后恢复。
type MemoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []Generation
}

// NewMemoryRepository 创建内存仓库。dataDir 为空时不落盘。
func NewMemoryRepository(dataDir string) (*MemoryRepository, error) {
	repo := &MemoryRepository{}
	if dataDir == "" {
		return repo, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo.dataFile = filepath.Join(dataDir, "generations.jsonl")
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Insert 以追加写的方式记录生成结果。
func (m *MemoryRepository) Insert(_ context.Context, record Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.ID == record.ID {
			return xerrors.New(xerrors.CodeConflict, "生成记录已存在", xerrors.WithMetadata("generation_id", record.ID))
		}
	}

	if m.dataFile != "" {
		file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开生成记录文件失败")
		}
		defer file.Close()

		encoded, err := json.Marshal(record)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化生成记录失败")
		}
		if _, err := file.Write(append(encoded, '\n')); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入生成记录失败")
		}
	}

	m.records = append(m.records, cloneGeneration(record))
	return nil
}

// CountSince 实现 Repository。
func (m *MemoryRepository) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, record := range m.records {
		if record.UserID == userID && !record.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ListByUser 实现 Repository。
func (m *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Generation
	for _, record := range m.records {
		if record.UserID == userID {
			out = append(out, cloneGeneration(record))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len 返回记录总数。
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取生成记录文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var record Generation
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		m.records = append(m.records, record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析生成记录文件失败: %w", err)
	}
	return nil
}

func cloneGeneration(g Generation) Generation {
	g.Motions = append([]string(nil), g.Motions...)
	return g
}

var _ Repository = (*MemoryRepository)(nil)
