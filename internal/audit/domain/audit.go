package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// AuditEntry 审计日志条目
type AuditEntry struct {
	TableName string
	RecordID  string
	Action    string
	ActorID   string
	ActorRole string
	Context   map[string]any
}

// Event 领域事件
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       map[string]any
	ActorID       string
	CorrelationID string
}

// Recorder 审计与领域事件记录。
// 两者都必须在触发变更的同一工作单元内写入，随之一起提交或回滚。
type Recorder interface {
	Log(ctx context.Context, entry AuditEntry) error
	Record(ctx context.Context, event Event) error
}

// AuditLog 审计日志表，只追加
type AuditLog struct {
	gorm.Model
	TableRef  string `gorm:"column:table_ref;type:varchar(40);index;not null" json:"table_ref"`
	RecordID  string `gorm:"column:record_id;type:varchar(40);index;not null" json:"record_id"`
	Action    string `gorm:"column:action;type:varchar(20);not null" json:"action"`
	ActorID   string `gorm:"column:actor_id;type:varchar(36);not null" json:"actor_id"`
	ActorRole string `gorm:"column:actor_role;type:varchar(20);not null" json:"actor_role"`
	Context   string `gorm:"column:context;type:text" json:"context"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// OutboxStatus outbox 事件状态
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
)

// OutboxEvent 领域事件 outbox 行，与业务变更同事务写入，
// 由后台转发器异步发布到 Kafka。
type OutboxEvent struct {
	gorm.Model
	EventID       string       `gorm:"column:event_id;type:varchar(36);uniqueIndex;not null" json:"event_id"`
	AggregateType string       `gorm:"column:aggregate_type;type:varchar(40);index;not null" json:"aggregate_type"`
	AggregateID   string       `gorm:"column:aggregate_id;type:varchar(40);index;not null" json:"aggregate_id"`
	EventType     string       `gorm:"column:event_type;type:varchar(60);not null" json:"event_type"`
	Payload       string       `gorm:"column:payload;type:text;not null" json:"payload"`
	ActorID       string       `gorm:"column:actor_id;type:varchar(36)" json:"actor_id"`
	CorrelationID string       `gorm:"column:correlation_id;type:varchar(40);index" json:"correlation_id"`
	Status        OutboxStatus `gorm:"column:status;type:varchar(12);index;default:PENDING;not null" json:"status"`
	PublishedAt   *time.Time   `gorm:"column:published_at" json:"published_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
