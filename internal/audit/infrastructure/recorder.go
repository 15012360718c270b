package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Gsaudx/Advision-sub000/internal/audit/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
)

// Recorder 审计与领域事件的 gorm 实现。
// 写入走 context 中的事务句柄，因此总是加入调用方的工作单元。
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(gdb *gorm.DB) *Recorder {
	return &Recorder{db: gdb}
}

func (r *Recorder) conn(ctx context.Context) *gorm.DB {
	return db.TxFrom(ctx, r.db).WithContext(ctx)
}

func (r *Recorder) Log(ctx context.Context, entry domain.AuditEntry) error {
	payload, err := json.Marshal(entry.Context)
	if err != nil {
		return err
	}
	row := domain.AuditLog{
		TableRef:  entry.TableName,
		RecordID:  entry.RecordID,
		Action:    entry.Action,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		Context:   string(payload),
	}
	return r.conn(ctx).Create(&row).Error
}

func (r *Recorder) Record(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	row := domain.OutboxEvent{
		EventID:       uuid.NewString(),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       string(payload),
		ActorID:       event.ActorID,
		CorrelationID: event.CorrelationID,
		Status:        domain.OutboxStatusPending,
	}
	return r.conn(ctx).Create(&row).Error
}
