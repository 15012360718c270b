package infrastructure

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Gsaudx/Advision-sub000/internal/audit/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/logger"
	"github.com/Gsaudx/Advision-sub000/pkg/metrics"
	"github.com/Gsaudx/Advision-sub000/pkg/mq"
)

// Relay 将已提交的 outbox 事件转发到 Kafka。
// 转发是 at-least-once：发布成功后才标记 PUBLISHED，
// 下游按 event_id 去重。
type Relay struct {
	db       *gorm.DB
	producer *mq.KafkaProducer
	topic    string
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
}

func NewRelay(gdb *gorm.DB, producer *mq.KafkaProducer, topic string, interval time.Duration, batch int, m *metrics.Metrics) *Relay {
	return &Relay{
		db:       gdb,
		producer: producer,
		topic:    topic,
		interval: interval,
		batch:    batch,
		metrics:  m,
	}
}

// Run 周期扫描 PENDING 事件并发布，直到 ctx 取消
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info(ctx, "outbox relay started", "topic", r.topic, "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "outbox relay stopped")
			return
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				logger.Error(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	var events []domain.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.OutboxStatusPending).
		Order("id ASC").
		Limit(r.batch).
		Find(&events).Error
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.OutboxPendingGauge.Set(float64(len(events)))
	}

	for i := range events {
		ev := &events[i]
		envelope := map[string]any{
			"event_id":       ev.EventID,
			"aggregate_type": ev.AggregateType,
			"aggregate_id":   ev.AggregateID,
			"event_type":     ev.EventType,
			"payload":        ev.Payload,
			"actor_id":       ev.ActorID,
			"correlation_id": ev.CorrelationID,
			"occurred_at":    ev.CreatedAt,
		}
		if err := r.producer.SendMessage(ctx, r.topic, ev.AggregateID, envelope); err != nil {
			// 保持 PENDING，下一轮重试
			return err
		}

		now := time.Now()
		err := r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
			Where("id = ?", ev.ID).
			Updates(map[string]any{
				"status":       domain.OutboxStatusPublished,
				"published_at": &now,
			}).Error
		if err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.OutboxPublishedTotal.Inc()
		}
	}

	return nil
}
