package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// Database 数据库接口
type Database interface {
	// 事件记录
	SaveEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	CleanupOldEvents(ctx context.Context, keepCount int, keepDays int) error

	// 交易报告
	SaveTradeReport(ctx context.Context, report *TradeReportRecord) error
	GetTradeReports(ctx context.Context, filter *TradeReportFilter) ([]*TradeReportRecord, error)

	// 对账差异记录
	SaveReconciliation(ctx context.Context, recon *Reconciliation) error
	GetReconciliations(ctx context.Context, filter *ReconciliationFilter) ([]*Reconciliation, error)

	// 状态快照
	SaveCheckpoint(ctx context.Context, cp *CheckpointRecord) error
	LatestCheckpoint(ctx context.Context) (*CheckpointRecord, error)
	PruneCheckpoints(ctx context.Context, keep int) error

	// 事务支持
	BeginTx(ctx context.Context) (Tx, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// Tx 事务接口
type Tx interface {
	Commit() error
	Rollback() error
	Database // 继承所有数据库操作
}

// 数据模型

// EventRecord 事件记录，Payload 为事件的 JSON
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind      string    `gorm:"index;size:50" json:"kind"`
	PodID     string    `gorm:"index;size:50" json:"pod_id"`
	Severity  string    `gorm:"index;size:20" json:"severity"` // 仅风险事件有值
	Payload   string    `gorm:"type:text" json:"payload"`
	EventTime time.Time `gorm:"index" json:"event_time"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TradeReportRecord 每个周期每个 pod 的决策报告
type TradeReportRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PodID         string    `gorm:"index:idx_pod_cycle;size:50" json:"pod_id"`
	Cycle         int64     `gorm:"index:idx_pod_cycle" json:"cycle"`
	Decision      string    `gorm:"size:20" json:"decision"` // 共识结果，未走到共识时为空
	OrderStatus   string    `gorm:"size:20" json:"order_status"`
	ClientOrderID string    `gorm:"index;size:100" json:"client_order_id"`
	Details       string    `gorm:"type:text" json:"details"`
	Payload       string    `gorm:"type:text" json:"payload"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// Reconciliation 对账差异记录
type Reconciliation struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Exchange      string    `gorm:"size:50" json:"exchange"`
	PodID         string    `gorm:"index;size:50" json:"pod_id"`
	Symbol        string    `gorm:"size:50" json:"symbol"`
	Type          string    `gorm:"index;size:50" json:"type"` // orphan_order, orphan_position, fetch_failure
	ClientOrderID string    `gorm:"size:100" json:"client_order_id"`
	RemoteValue   string    `gorm:"type:text" json:"remote_value"`
	Resolved      bool      `gorm:"index" json:"resolved"`
	Error         string    `gorm:"type:text" json:"error"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// CheckpointRecord 状态快照，Payload 为快照 JSON
type CheckpointRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GlobalMode string    `gorm:"size:20" json:"global_mode"`
	Cycle      int64     `json:"cycle"`
	Payload    string    `gorm:"type:text" json:"payload"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// 过滤器

// EventFilter 事件过滤器
type EventFilter struct {
	Kind      string
	PodID     string
	Severity  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// TradeReportFilter 交易报告过滤器
type TradeReportFilter struct {
	PodID  string
	Cycle  int64
	Limit  int
	Offset int
}

// ReconciliationFilter 对账记录过滤器
type ReconciliationFilter struct {
	PodID     string
	Type      string
	Resolved  *bool
	StartTime *time.Time
	Limit     int
	Offset    int
}
