package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	// 日志级别
	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&EventRecord{},
		&TradeReportRecord{},
		&Reconciliation{},
		&CheckpointRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// SaveEvent 保存事件记录
func (g *GormDatabase) SaveEvent(ctx context.Context, event *EventRecord) error {
	return g.db.WithContext(ctx).Create(event).Error
}

// GetEvents 获取事件记录
func (g *GormDatabase) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	query := g.db.WithContext(ctx).Model(&EventRecord{})

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.PodID != "" {
		query = query.Where("pod_id = ?", filter.PodID)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []*EventRecord
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CleanupOldEvents 清理旧事件：删除超过 keepDays 天的非风险事件，并只保留最新 keepCount 条
func (g *GormDatabase) CleanupOldEvents(ctx context.Context, keepCount int, keepDays int) error {
	if keepDays > 0 {
		cutoffDate := time.Now().AddDate(0, 0, -keepDays)
		if err := g.db.WithContext(ctx).
			Where("severity = ? AND created_at < ?", "", cutoffDate).
			Delete(&EventRecord{}).Error; err != nil {
			return err
		}
	}

	if keepCount <= 0 {
		return nil
	}
	var cutoffIDs []int64
	if err := g.db.WithContext(ctx).Model(&EventRecord{}).
		Order("id DESC").
		Limit(1).
		Offset(keepCount).
		Pluck("id", &cutoffIDs).Error; err != nil {
		return err
	}
	if len(cutoffIDs) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Where("id <= ?", cutoffIDs[0]).Delete(&EventRecord{}).Error
}

// SaveTradeReport 保存交易报告
func (g *GormDatabase) SaveTradeReport(ctx context.Context, report *TradeReportRecord) error {
	return g.db.WithContext(ctx).Create(report).Error
}

// GetTradeReports 获取交易报告
func (g *GormDatabase) GetTradeReports(ctx context.Context, filter *TradeReportFilter) ([]*TradeReportRecord, error) {
	query := g.db.WithContext(ctx).Model(&TradeReportRecord{})

	if filter.PodID != "" {
		query = query.Where("pod_id = ?", filter.PodID)
	}
	if filter.Cycle > 0 {
		query = query.Where("cycle = ?", filter.Cycle)
	}

	query = query.Order("id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var reports []*TradeReportRecord
	if err := query.Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

// SaveReconciliation 保存对账记录
func (g *GormDatabase) SaveReconciliation(ctx context.Context, recon *Reconciliation) error {
	return g.db.WithContext(ctx).Create(recon).Error
}

// GetReconciliations 获取对账记录
func (g *GormDatabase) GetReconciliations(ctx context.Context, filter *ReconciliationFilter) ([]*Reconciliation, error) {
	query := g.db.WithContext(ctx).Model(&Reconciliation{})

	if filter.PodID != "" {
		query = query.Where("pod_id = ?", filter.PodID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Resolved != nil {
		query = query.Where("resolved = ?", *filter.Resolved)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}

	query = query.Order("id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var recons []*Reconciliation
	if err := query.Find(&recons).Error; err != nil {
		return nil, err
	}
	return recons, nil
}

// SaveCheckpoint 保存状态快照
func (g *GormDatabase) SaveCheckpoint(ctx context.Context, cp *CheckpointRecord) error {
	return g.db.WithContext(ctx).Create(cp).Error
}

// LatestCheckpoint 最新的状态快照，没有时返回 ErrNotFound
func (g *GormDatabase) LatestCheckpoint(ctx context.Context) (*CheckpointRecord, error) {
	var cp CheckpointRecord
	err := g.db.WithContext(ctx).Order("id DESC").First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// PruneCheckpoints 只保留最新的 keep 份快照
func (g *GormDatabase) PruneCheckpoints(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	var ids []int64
	if err := g.db.WithContext(ctx).Model(&CheckpointRecord{}).
		Order("id DESC").
		Limit(1).
		Offset(keep).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Where("id <= ?", ids[0]).Delete(&CheckpointRecord{}).Error
}

// BeginTx 开始事务
func (g *GormDatabase) BeginTx(ctx context.Context) (Tx, error) {
	tx := g.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &GormTx{GormDatabase: &GormDatabase{db: tx}}, nil
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormTx GORM 事务实现，复用 GormDatabase 的所有读写方法
type GormTx struct {
	*GormDatabase
}

func (t *GormTx) Commit() error {
	return t.db.Commit().Error
}

func (t *GormTx) Rollback() error {
	return t.db.Rollback().Error
}

func (t *GormTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *GormTx) Ping(ctx context.Context) error {
	return nil
}

func (t *GormTx) Close() error {
	return nil
}
