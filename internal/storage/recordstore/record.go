// Package recordstore persists generation records. Records are append-only:
// they are inserted once after every asset of a generation is stored and are
// never updated.
package recordstore

import (
	"context"
	"time"
)

// Kind 区分生成方式：多动作精灵图、单图、角色概念图与整张姿势表。
type Kind string

const (
	KindSprites Kind = "sprites"
	KindImage   Kind = "image"
	KindConcept Kind = "concept"
	KindSheet   Kind = "sheet"
)

// Generation 是一次成功生成的落库结构。
type Generation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      Kind      `json:"kind"`
	Prompt    string    `json:"prompt"`
	Seed      int64     `json:"seed"`
	Style     string    `json:"style"`
	Motions   []string  `json:"motions,omitempty"`
	AtlasURL  string    `json:"atlasUrl,omitempty"`
	MetaURL   string    `json:"metaUrl,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CacheKey  string    `json:"cacheKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository 抽象生成记录的持久化接口。
type Repository interface {
	Insert(ctx context.Context, record Generation) error
	// CountSince 统计用户在 since 之后（含）创建的记录数，用于配额判断。
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ListByUser 按创建时间倒序返回用户的记录。
	ListByUser(ctx context.Context, userID string, limit int) ([]Generation, error)
}

// 列表默认与最大条数。
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
