package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionType 账务流水类型
type TransactionType string

const (
	TransactionTypeBuy              TransactionType = "BUY"
	TransactionTypeSell             TransactionType = "SELL"
	TransactionTypeOptionExercise   TransactionType = "OPTION_EXERCISE"
	TransactionTypeOptionAssignment TransactionType = "OPTION_ASSIGNMENT"
)

// Transaction 不可变的账务流水，创建后不再更新或删除。
// (wallet_id, idempotency_key) 唯一索引是重试去重的最终依据。
type Transaction struct {
	gorm.Model
	TransactionID  string          `gorm:"column:transaction_id;type:varchar(40);uniqueIndex;not null" json:"transaction_id"`
	WalletID       string          `gorm:"column:wallet_id;type:varchar(36);uniqueIndex:ux_wallet_idem,priority:1;not null" json:"wallet_id"`
	AssetID        string          `gorm:"column:asset_id;type:varchar(36);index;not null" json:"asset_id"`
	Type           TransactionType `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	Price          decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null" json:"price"`
	TotalValue     decimal.Decimal `gorm:"column:total_value;type:decimal(20,8);not null" json:"total_value"`
	ExecutedAt     time.Time       `gorm:"column:executed_at;not null" json:"executed_at"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(80);uniqueIndex:ux_wallet_idem,priority:2;not null" json:"idempotency_key"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// TransactionRepository 流水仓储
type TransactionRepository interface {
	// Create 写入流水；幂等键冲突以 gorm.ErrDuplicatedKey 形式返回
	Create(ctx context.Context, txn *Transaction) error
	ExistsByIdempotencyKey(ctx context.Context, walletID, key string) (bool, error)
	History(ctx context.Context, walletID string, limit, offset int) ([]*Transaction, int64, error)
}
