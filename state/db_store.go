package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"podmesh/database"
	"podmesh/logger"
)

// DBStore 基于数据库的快照存储，每次保存追加一条记录并清理旧记录
type DBStore struct {
	db   database.Database
	keep int
}

// NewDBStore 创建数据库快照存储，keep 为保留的历史份数
func NewDBStore(db database.Database, keep int) *DBStore {
	if keep <= 0 {
		keep = 20
	}
	return &DBStore{db: db, keep: keep}
}

// Load 读取最新快照
func (s *DBStore) Load(ctx context.Context) (*Checkpoint, error) {
	rec, err := s.db.LatestCheckpoint(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("读取状态快照失败: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(rec.Payload), &cp); err != nil {
		return nil, fmt.Errorf("解析状态快照 #%d 失败: %w", rec.ID, err)
	}
	logger.Info("📂 已加载状态快照 #%d (cycle=%d, 全局模式=%s, pods=%d)", rec.ID, cp.LastCycle, cp.GlobalMode, len(cp.Pods))
	return &cp, nil
}

// Save 在一个事务内写入快照并清理旧快照
func (s *DBStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("序列化状态快照失败: %w", err)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	if err := tx.SaveCheckpoint(ctx, &database.CheckpointRecord{
		GlobalMode: string(cp.GlobalMode),
		Cycle:      cp.LastCycle,
		Payload:    string(payload),
		CreatedAt:  cp.SavedAt,
	}); err != nil {
		tx.Rollback()
		return fmt.Errorf("保存状态快照失败: %w", err)
	}
	if err := tx.PruneCheckpoints(ctx, s.keep); err != nil {
		tx.Rollback()
		return fmt.Errorf("清理旧快照失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交状态快照失败: %w", err)
	}
	logger.Debug("💾 状态快照已保存 (cycle=%d)", cp.LastCycle)
	return nil
}
