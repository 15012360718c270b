package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPositionNotFound     = errors.New("position not found")
	ErrInsufficientPosition = errors.New("quantity exceeds position")
	ErrWrongPositionSide    = errors.New("operation not allowed for this position side")
	ErrExerciseNotAllowed   = errors.New("exercise not allowed before expiration")
	ErrNotYetExpired        = errors.New("option has not reached expiration")
	ErrInsufficientUnderlying = errors.New("insufficient underlying shares")
)

// ContractSize 每张股票期权对应的标的股数
const ContractSize = 100

// contractSize 作为 decimal 的合约乘数
var contractSize = decimal.NewFromInt(ContractSize)

// ContractMultiplier 返回合约乘数
func ContractMultiplier() decimal.Decimal {
	return contractSize
}

// Position 持仓，(wallet_id, asset_id) 唯一。
// Quantity 带符号：正为多头，负为空头；数量归零的持仓必须删除，绝不落库为零。
// AveragePrice 是加权成本，仅在持仓未翻向时有意义。
// CollateralBlocked 仅空头期权保证金持仓使用。
// 不带软删除字段：删除必须物理移除行，否则 ux_wallet_asset 会阻止同一
// (wallet_id, asset_id) 平仓后重新开仓。
type Position struct {
	ID                uint                `gorm:"primarykey" json:"-"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	PositionID        string              `gorm:"column:position_id;type:varchar(36);uniqueIndex;not null" json:"position_id"`
	WalletID          string              `gorm:"column:wallet_id;type:varchar(36);uniqueIndex:ux_wallet_asset,priority:1;not null" json:"wallet_id"`
	AssetID           string              `gorm:"column:asset_id;type:varchar(36);uniqueIndex:ux_wallet_asset,priority:2;not null" json:"asset_id"`
	Quantity          decimal.Decimal     `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	AveragePrice      decimal.Decimal     `gorm:"column:average_price;type:decimal(20,8);not null" json:"average_price"`
	CollateralBlocked decimal.NullDecimal `gorm:"column:collateral_blocked;type:decimal(20,8)" json:"collateral_blocked"`
}

func (Position) TableName() string {
	return "positions"
}

// IsLong 是否多头
func (p *Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort 是否空头
func (p *Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// AbsQuantity 持仓数量绝对值
func (p *Position) AbsQuantity() decimal.Decimal {
	return p.Quantity.Abs()
}

// Collateral 已冻结担保，无担保返回零
func (p *Position) Collateral() decimal.Decimal {
	if !p.CollateralBlocked.Valid {
		return decimal.Zero
	}
	return p.CollateralBlocked.Decimal
}

// FillResult 成交对持仓的状态转移结果
type FillResult struct {
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	// Closed 数量归零，持仓应删除
	Closed bool
	// Flipped 一笔成交穿越零点翻向，越过零的部分视为按成交价新开仓
	Flipped bool
}

// ApplyFill 纯状态转移：对现有持仓应用一笔带符号的成交。
// 同向加仓重算加权均价；反向减仓只缩数量，均价不变；
// 减到零即关闭；单笔穿越零点则翻向部分按成交价重开。
func ApplyFill(existingQty, existingAvg, deltaQty, fillPrice decimal.Decimal) FillResult {
	if existingQty.IsZero() {
		return FillResult{Quantity: deltaQty, AveragePrice: fillPrice}
	}

	newQty := existingQty.Add(deltaQty)

	sameDirection := existingQty.Sign() == deltaQty.Sign()
	if sameDirection {
		weighted := existingQty.Abs().Mul(existingAvg).
			Add(deltaQty.Abs().Mul(fillPrice)).
			Div(newQty.Abs())
		return FillResult{Quantity: newQty, AveragePrice: weighted}
	}

	if newQty.IsZero() {
		return FillResult{Quantity: decimal.Zero, AveragePrice: existingAvg, Closed: true}
	}

	if newQty.Sign() != existingQty.Sign() {
		return FillResult{Quantity: newQty, AveragePrice: fillPrice, Flipped: true}
	}

	return FillResult{Quantity: newQty, AveragePrice: existingAvg}
}

// CollateralForShortPut 卖出 PUT 的保证金：行权价 × 合约乘数 × 张数。
// 这是唯一的保证金公式，其他腿型不冻结担保。
func CollateralForShortPut(strike, contracts decimal.Decimal) decimal.Decimal {
	return strike.Mul(contractSize).Mul(contracts)
}

// ScaleCollateral 空头持仓规模变化时按比例缩放担保，
// 绝不按行权价重新计算。oldAbsQty 必须大于零。
func ScaleCollateral(existing, oldAbsQty, newAbsQty decimal.Decimal) decimal.Decimal {
	return existing.Mul(newAbsQty).Div(oldAbsQty)
}

// UnderlyingShares 合约张数对应的标的股数
func UnderlyingShares(contracts decimal.Decimal) decimal.Decimal {
	return contracts.Mul(contractSize)
}

// PremiumValue 权利金总额：单价 × 合约乘数 × 张数
func PremiumValue(premium, contracts decimal.Decimal) decimal.Decimal {
	return premium.Mul(contractSize).Mul(contracts)
}
