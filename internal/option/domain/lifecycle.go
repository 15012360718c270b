package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LifecycleEvent 期权生命周期事件
type LifecycleEvent string

const (
	LifecycleEventExercised  LifecycleEvent = "EXERCISED"
	LifecycleEventAssigned   LifecycleEvent = "ASSIGNED"
	LifecycleEventExpiredITM LifecycleEvent = "EXPIRED_ITM"
	LifecycleEventExpiredOTM LifecycleEvent = "EXPIRED_OTM"
)

// OptionLifecycle 生命周期事件记录，只追加。
// 到期事件不产生流水，ResultingTransactionID 为空。
type OptionLifecycle struct {
	gorm.Model
	LifecycleID            string          `gorm:"column:lifecycle_id;type:varchar(36);uniqueIndex;not null" json:"lifecycle_id"`
	PositionID             string          `gorm:"column:position_id;type:varchar(36);index;not null" json:"position_id"`
	WalletID               string          `gorm:"column:wallet_id;type:varchar(36);index;not null" json:"wallet_id"`
	Event                  LifecycleEvent  `gorm:"column:event;type:varchar(15);not null" json:"event"`
	UnderlyingQuantity     decimal.Decimal `gorm:"column:underlying_quantity;type:decimal(20,8);not null" json:"underlying_quantity"`
	StrikePrice            decimal.Decimal `gorm:"column:strike_price;type:decimal(20,8);not null" json:"strike_price"`
	SettlementAmount       decimal.Decimal `gorm:"column:settlement_amount;type:decimal(20,8);not null" json:"settlement_amount"`
	ResultingTransactionID string          `gorm:"column:resulting_transaction_id;type:varchar(40)" json:"resulting_transaction_id"`
	WasInTheMoney          bool            `gorm:"column:was_in_the_money;not null;default:false" json:"was_in_the_money"`
	Notes                  string          `gorm:"column:notes;type:varchar(255)" json:"notes"`
}

func (OptionLifecycle) TableName() string {
	return "option_lifecycles"
}
