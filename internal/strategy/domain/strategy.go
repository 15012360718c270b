package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrOperationNotFound = errors.New("structured operation not found")
	ErrInvalidCursor     = errors.New("invalid pagination cursor")
)

// StrategyType 策略类型
type StrategyType string

const (
	StrategyStraddle      StrategyType = "STRADDLE"
	StrategyCoveredCall   StrategyType = "COVERED_CALL"
	StrategyProtectivePut StrategyType = "PROTECTIVE_PUT"
	StrategyCollar        StrategyType = "COLLAR"
	StrategyBullCallSpread StrategyType = "BULL_CALL_SPREAD"
	StrategyBearPutSpread  StrategyType = "BEAR_PUT_SPREAD"
	StrategySingleOption   StrategyType = "SINGLE_OPTION"
	StrategyCustom         StrategyType = "CUSTOM"
)

// LegType 腿类型
type LegType string

const (
	LegBuyCall   LegType = "BUY_CALL"
	LegSellCall  LegType = "SELL_CALL"
	LegBuyPut    LegType = "BUY_PUT"
	LegSellPut   LegType = "SELL_PUT"
	LegBuyStock  LegType = "BUY_STOCK"
	LegSellStock LegType = "SELL_STOCK"
)

// IsOption 是否期权腿
func (t LegType) IsOption() bool {
	return t != LegBuyStock && t != LegSellStock
}

// IsBuy 是否买入腿
func (t LegType) IsBuy() bool {
	return t == LegBuyCall || t == LegBuyPut || t == LegBuyStock
}

// IsCall / IsPut 期权腿方向
func (t LegType) IsCall() bool { return t == LegBuyCall || t == LegSellCall }
func (t LegType) IsPut() bool  { return t == LegBuyPut || t == LegSellPut }

// OperationStatus 结构化操作状态
type OperationStatus string

const (
	OperationStatusPending  OperationStatus = "PENDING"
	OperationStatusExecuted OperationStatus = "EXECUTED"
)

// Leg 一条买卖指令，构建与校验阶段的输入
type Leg struct {
	Ticker   string          `json:"ticker"`
	Type     LegType         `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// StructuredOperation 多腿策略实例
type StructuredOperation struct {
	gorm.Model
	OperationID    string          `gorm:"column:operation_id;type:varchar(36);uniqueIndex;not null" json:"operation_id"`
	WalletID       string          `gorm:"column:wallet_id;type:varchar(36);not null;index;uniqueIndex:ux_op_wallet_idem,priority:1" json:"wallet_id"`
	StrategyType   StrategyType    `gorm:"column:strategy_type;type:varchar(20);not null" json:"strategy_type"`
	Status         OperationStatus `gorm:"column:status;type:varchar(10);not null;default:PENDING" json:"status"`
	TotalPremium   decimal.Decimal `gorm:"column:total_premium;type:decimal(20,8);not null" json:"total_premium"`
	MarginBlocked  decimal.Decimal `gorm:"column:margin_blocked;type:decimal(20,8);not null;default:0" json:"margin_blocked"`
	ExpirationDate *time.Time      `gorm:"column:expiration_date" json:"expiration_date"`
	ExecutedAt     time.Time       `gorm:"column:executed_at;not null" json:"executed_at"`
	Notes          string          `gorm:"column:notes;type:varchar(255)" json:"notes"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(64);not null;uniqueIndex:ux_op_wallet_idem,priority:2" json:"idempotency_key"`
	CorrelationID  string          `gorm:"column:correlation_id;type:varchar(40);index" json:"correlation_id"`
}

func (StructuredOperation) TableName() string {
	return "structured_operations"
}

// OperationLeg 结构化操作的一条腿，执行后关联产生的流水
type OperationLeg struct {
	gorm.Model
	LegID         string          `gorm:"column:leg_id;type:varchar(36);uniqueIndex;not null" json:"leg_id"`
	OperationID   string          `gorm:"column:operation_id;type:varchar(36);index;not null" json:"operation_id"`
	LegOrder      int             `gorm:"column:leg_order;not null" json:"leg_order"`
	LegType       LegType         `gorm:"column:leg_type;type:varchar(10);not null" json:"leg_type"`
	AssetID       string          `gorm:"column:asset_id;type:varchar(36);not null" json:"asset_id"`
	Ticker        string          `gorm:"column:ticker;type:varchar(40);not null" json:"ticker"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	Price         decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null" json:"price"`
	TotalValue    decimal.Decimal `gorm:"column:total_value;type:decimal(20,8);not null" json:"total_value"`
	Status        OperationStatus `gorm:"column:status;type:varchar(10);not null;default:PENDING" json:"status"`
	TransactionID string          `gorm:"column:transaction_id;type:varchar(40)" json:"transaction_id"`
}

func (OperationLeg) TableName() string {
	return "operation_legs"
}

// Page 游标分页结果
type Page struct {
	Operations []*StructuredOperation
	NextCursor string
}

// Repository 结构化操作持久化。
// Create 在同一工作单元里写入操作与全部腿。
type Repository interface {
	Create(ctx context.Context, op *StructuredOperation, legs []*OperationLeg) error
	SaveLeg(ctx context.Context, leg *OperationLeg) error
	// MarkExecuted 置为已执行并回填实际冻结的保证金
	MarkExecuted(ctx context.Context, operationID string, marginBlocked decimal.Decimal) error
	GetByID(ctx context.Context, walletID, operationID string) (*StructuredOperation, []*OperationLeg, error)
	LegsByOperation(ctx context.Context, operationID string) ([]*OperationLeg, error)
	List(ctx context.Context, walletID, cursor string, limit int) (*Page, error)
	ExistsByIdempotencyKey(ctx context.Context, walletID, key string) (bool, error)
}
