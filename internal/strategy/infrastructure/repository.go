package infrastructure

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Gsaudx/Advision-sub000/internal/strategy/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
)

// OperationRepository 结构化操作的 GORM 仓储
type OperationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(gdb *gorm.DB) *OperationRepository {
	return &OperationRepository{db: gdb}
}

func (r *OperationRepository) conn(ctx context.Context) *gorm.DB {
	return db.TxFrom(ctx, r.db).WithContext(ctx)
}

// Create 同一工作单元内写入操作与全部腿
func (r *OperationRepository) Create(ctx context.Context, op *domain.StructuredOperation, legs []*domain.OperationLeg) error {
	if err := r.conn(ctx).Create(op).Error; err != nil {
		return err
	}
	if len(legs) == 0 {
		return nil
	}
	return r.conn(ctx).Create(legs).Error
}

func (r *OperationRepository) SaveLeg(ctx context.Context, leg *domain.OperationLeg) error {
	return r.conn(ctx).Save(leg).Error
}

func (r *OperationRepository) MarkExecuted(ctx context.Context, operationID string, marginBlocked decimal.Decimal) error {
	res := r.conn(ctx).Model(&domain.StructuredOperation{}).
		Where("operation_id = ?", operationID).
		Updates(map[string]any{
			"status":         domain.OperationStatusExecuted,
			"margin_blocked": marginBlocked,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOperationNotFound
	}
	return nil
}

func (r *OperationRepository) GetByID(ctx context.Context, walletID, operationID string) (*domain.StructuredOperation, []*domain.OperationLeg, error) {
	var op domain.StructuredOperation
	err := r.conn(ctx).
		Where("wallet_id = ? AND operation_id = ?", walletID, operationID).
		First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrOperationNotFound
		}
		return nil, nil, err
	}
	legs, err := r.LegsByOperation(ctx, operationID)
	if err != nil {
		return nil, nil, err
	}
	return &op, legs, nil
}

func (r *OperationRepository) LegsByOperation(ctx context.Context, operationID string) ([]*domain.OperationLeg, error) {
	var legs []*domain.OperationLeg
	err := r.conn(ctx).
		Where("operation_id = ?", operationID).
		Order("leg_order ASC").
		Find(&legs).Error
	return legs, err
}

// List 游标分页，游标为上一页最后一行的自增 ID，按 ID 倒序
func (r *OperationRepository) List(ctx context.Context, walletID, cursor string, limit int) (*domain.Page, error) {
	q := r.conn(ctx).Where("wallet_id = ?", walletID)
	if cursor != "" {
		lastID, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		q = q.Where("id < ?", lastID)
	}

	var ops []*domain.StructuredOperation
	if err := q.Order("id DESC").Limit(limit + 1).Find(&ops).Error; err != nil {
		return nil, err
	}

	page := &domain.Page{}
	if len(ops) > limit {
		ops = ops[:limit]
		page.NextCursor = strconv.FormatUint(uint64(ops[limit-1].ID), 10)
	}
	page.Operations = ops
	return page, nil
}

func (r *OperationRepository) ExistsByIdempotencyKey(ctx context.Context, walletID, key string) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&domain.StructuredOperation{}).
		Where("wallet_id = ? AND idempotency_key = ?", walletID, key).
		Count(&count).Error
	return count > 0, err
}
