package infrastructure

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Gsaudx/Advision-sub000/internal/option/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
)

// PositionRepository 持仓仓储的 gorm 实现
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository(gdb *gorm.DB) *PositionRepository {
	return &PositionRepository{db: gdb}
}

func (r *PositionRepository) conn(ctx context.Context) *gorm.DB {
	return db.TxFrom(ctx, r.db).WithContext(ctx)
}

func (r *PositionRepository) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	var p domain.Position
	if err := r.conn(ctx).Where("position_id = ?", positionID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PositionRepository) GetByWalletAndAsset(ctx context.Context, walletID, assetID string) (*domain.Position, error) {
	var p domain.Position
	err := r.conn(ctx).Where("wallet_id = ? AND asset_id = ?", walletID, assetID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *PositionRepository) Save(ctx context.Context, position *domain.Position) error {
	return r.conn(ctx).Save(position).Error
}

// Delete 物理删除持仓行，释放 (wallet_id, asset_id) 唯一键供重新开仓
func (r *PositionRepository) Delete(ctx context.Context, positionID string) error {
	return r.conn(ctx).Where("position_id = ?", positionID).Delete(&domain.Position{}).Error
}

func (r *PositionRepository) ListByWallet(ctx context.Context, walletID string) ([]*domain.Position, error) {
	var positions []*domain.Position
	if err := r.conn(ctx).Where("wallet_id = ?", walletID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// LifecycleRepository 生命周期记录仓储的 gorm 实现
type LifecycleRepository struct {
	db *gorm.DB
}

func NewLifecycleRepository(gdb *gorm.DB) *LifecycleRepository {
	return &LifecycleRepository{db: gdb}
}

func (r *LifecycleRepository) conn(ctx context.Context) *gorm.DB {
	return db.TxFrom(ctx, r.db).WithContext(ctx)
}

func (r *LifecycleRepository) Create(ctx context.Context, record *domain.OptionLifecycle) error {
	return r.conn(ctx).Create(record).Error
}

func (r *LifecycleRepository) ListByPosition(ctx context.Context, positionID string) ([]*domain.OptionLifecycle, error) {
	var records []*domain.OptionLifecycle
	err := r.conn(ctx).Where("position_id = ?", positionID).Order("id ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *LifecycleRepository) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*domain.OptionLifecycle, int64, error) {
	var records []*domain.OptionLifecycle
	var total int64

	q := r.conn(ctx).Model(&domain.OptionLifecycle{}).Where("wallet_id = ?", walletID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
