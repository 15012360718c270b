package domain

import (
	"context"
)

// PositionRepository 持仓仓储。
// GetByWalletAndAsset 未找到时返回 (nil, nil)，由调用方按新开仓处理。
type PositionRepository interface {
	GetByID(ctx context.Context, positionID string) (*Position, error)
	GetByWalletAndAsset(ctx context.Context, walletID, assetID string) (*Position, error)
	Save(ctx context.Context, position *Position) error
	Delete(ctx context.Context, positionID string) error
	// ListByWallet 返回钱包的全部持仓
	ListByWallet(ctx context.Context, walletID string) ([]*Position, error)
}

// LifecycleRepository 生命周期记录仓储
type LifecycleRepository interface {
	Create(ctx context.Context, record *OptionLifecycle) error
	ListByPosition(ctx context.Context, positionID string) ([]*OptionLifecycle, error)
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*OptionLifecycle, int64, error)
}
