package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrAssetNotFound        = errors.New("asset not found")
	ErrOptionDetailNotFound = errors.New("option detail not found")
	ErrNotAnOption          = errors.New("asset is not an option")
	ErrPriceUnavailable     = errors.New("price unavailable")
)

// AssetType 资产类型
type AssetType string

const (
	AssetTypeStock  AssetType = "STOCK"
	AssetTypeOption AssetType = "OPTION"
)

// OptionType 期权方向
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// ExerciseStyle 行权风格
type ExerciseStyle string

const (
	ExerciseStyleAmerican ExerciseStyle = "AMERICAN"
	ExerciseStyleEuropean ExerciseStyle = "EUROPEAN"
)

// Moneyness 期权价值状态
type Moneyness string

const (
	MoneynessITM     Moneyness = "ITM"
	MoneynessATM     Moneyness = "ATM"
	MoneynessOTM     Moneyness = "OTM"
	MoneynessUnknown Moneyness = "UNKNOWN"
)

// atmBand ATM 判定带宽：现价在行权价 ±1% 以内视为平值
var atmBand = decimal.NewFromFloat(0.01)

// Asset 可交易资产，创建后不可变
type Asset struct {
	gorm.Model
	AssetID string    `gorm:"column:asset_id;type:varchar(36);uniqueIndex;not null" json:"asset_id"`
	Ticker  string    `gorm:"column:ticker;type:varchar(40);uniqueIndex;not null" json:"ticker"`
	Type    AssetType `gorm:"column:type;type:varchar(10);not null" json:"type"`
}

func (Asset) TableName() string {
	return "assets"
}

// OptionDetail 期权合约明细，与 OPTION 资产 1:1，不可变
type OptionDetail struct {
	gorm.Model
	AssetID           string        `gorm:"column:asset_id;type:varchar(36);uniqueIndex;not null" json:"asset_id"`
	OptionType        OptionType    `gorm:"column:option_type;type:varchar(4);not null" json:"option_type"`
	ExerciseStyle     ExerciseStyle `gorm:"column:exercise_style;type:varchar(10);not null" json:"exercise_style"`
	StrikePrice       decimal.Decimal `gorm:"column:strike_price;type:decimal(20,8);not null" json:"strike_price"`
	ExpirationDate    time.Time     `gorm:"column:expiration_date;not null" json:"expiration_date"`
	UnderlyingAssetID string        `gorm:"column:underlying_asset_id;type:varchar(36);index;not null" json:"underlying_asset_id"`
}

func (OptionDetail) TableName() string {
	return "option_details"
}

// IsExpirable 是否已到期（仅比较日期，忽略时刻）
func (d *OptionDetail) IsExpirable(asOf time.Time) bool {
	expiry := d.ExpirationDate.Truncate(24 * time.Hour)
	day := asOf.Truncate(24 * time.Hour)
	return !day.Before(expiry)
}

// CanExercise 给定日期能否行权；美式随时可行权，欧式仅在到期日或之后
func (d *OptionDetail) CanExercise(asOf time.Time) bool {
	if d.ExerciseStyle == ExerciseStyleEuropean {
		return d.IsExpirable(asOf)
	}
	return true
}

// IsInTheMoney 按现价判断是否价内
func (d *OptionDetail) IsInTheMoney(spot decimal.Decimal) bool {
	if d.OptionType == OptionTypeCall {
		return spot.GreaterThan(d.StrikePrice)
	}
	return spot.LessThan(d.StrikePrice)
}

// Classify 按现价分类 ITM/ATM/OTM，现价与行权价相差 1% 以内为 ATM
func (d *OptionDetail) Classify(spot decimal.Decimal) Moneyness {
	if d.StrikePrice.IsZero() {
		return MoneynessUnknown
	}
	diff := spot.Sub(d.StrikePrice).Abs().Div(d.StrikePrice)
	if diff.LessThanOrEqual(atmBand) {
		return MoneynessATM
	}
	if d.IsInTheMoney(spot) {
		return MoneynessITM
	}
	return MoneynessOTM
}

// AssetMetadata 上游返回的资产元数据。
// Greeks 仅透传，本服务不做任何推导。
type AssetMetadata struct {
	Ticker           string          `json:"ticker"`
	Type             AssetType       `json:"type"`
	OptionType       OptionType      `json:"option_type,omitempty"`
	ExerciseStyle    ExerciseStyle   `json:"exercise_style,omitempty"`
	StrikePrice      decimal.Decimal `json:"strike_price,omitempty"`
	ExpirationDate   time.Time       `json:"expiration_date,omitempty"`
	UnderlyingTicker string          `json:"underlying_ticker,omitempty"`
	Greeks           map[string]decimal.Decimal `json:"greeks,omitempty"`
}

// Resolver 资产解析：按 ticker 首次使用时从上游元数据创建
type Resolver interface {
	EnsureAssetExists(ctx context.Context, ticker string) (*Asset, error)
	GetByID(ctx context.Context, assetID string) (*Asset, error)
	// OptionDetail 返回 OPTION 资产的合约明细，非期权返回 ErrNotAnOption
	OptionDetail(ctx context.Context, assetID string) (*OptionDetail, error)
}

// MarketData 行情查询。批量查询允许缺失条目，缺失按"价格未知"处理。
type MarketData interface {
	GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	GetBatchPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}
