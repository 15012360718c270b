package infrastructure

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
)

// WalletRepository 钱包仓储的 gorm 实现
type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(gdb *gorm.DB) *WalletRepository {
	return &WalletRepository{db: gdb}
}

func (r *WalletRepository) conn(ctx context.Context) *gorm.DB {
	return db.TxFrom(ctx, r.db).WithContext(ctx)
}

func (r *WalletRepository) Get(ctx context.Context, walletID string) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := r.conn(ctx).Where("wallet_id = ?", walletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// DebitCash 单条条件 UPDATE，余额不足时影响 0 行
func (r *WalletRepository) DebitCash(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	res := r.conn(ctx).Model(&domain.Wallet{}).
		Where("wallet_id = ? AND cash_balance >= ?", walletID, amount).
		Update("cash_balance", gorm.Expr("cash_balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *WalletRepository) DebitCashUnblocked(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	res := r.conn(ctx).Model(&domain.Wallet{}).
		Where("wallet_id = ? AND cash_balance - blocked_collateral >= ?", walletID, amount).
		Update("cash_balance", gorm.Expr("cash_balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *WalletRepository) CreditCash(ctx context.Context, walletID string, amount decimal.Decimal) error {
	res := r.conn(ctx).Model(&domain.Wallet{}).
		Where("wallet_id = ?", walletID).
		Update("cash_balance", gorm.Expr("cash_balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

// BlockCollateral 冻结担保前检查未冻结现金是否足够，同样走条件更新
func (r *WalletRepository) BlockCollateral(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	res := r.conn(ctx).Model(&domain.Wallet{}).
		Where("wallet_id = ? AND cash_balance - blocked_collateral >= ?", walletID, amount).
		Update("blocked_collateral", gorm.Expr("blocked_collateral + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *WalletRepository) ReleaseCollateral(ctx context.Context, walletID string, amount decimal.Decimal) error {
	res := r.conn(ctx).Model(&domain.Wallet{}).
		Where("wallet_id = ? AND blocked_collateral >= ?", walletID, amount).
		Update("blocked_collateral", gorm.Expr("blocked_collateral - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

// TransactionRepository 流水仓储的 gorm 实现
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(gdb *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: gdb}
}

func (r *TransactionRepository) conn(ctx context.Context) *gorm.DB {
	return db.TxFrom(ctx, r.db).WithContext(ctx)
}

func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	return r.conn(ctx).Create(txn).Error
}

func (r *TransactionRepository) ExistsByIdempotencyKey(ctx context.Context, walletID, key string) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&domain.Transaction{}).
		Where("wallet_id = ? AND idempotency_key = ?", walletID, key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *TransactionRepository) History(ctx context.Context, walletID string, limit, offset int) ([]*domain.Transaction, int64, error) {
	var txns []*domain.Transaction
	var total int64

	q := r.conn(ctx).Model(&domain.Transaction{}).Where("wallet_id = ?", walletID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("executed_at DESC").Limit(limit).Offset(offset).Find(&txns).Error; err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}
