package domain

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	optiondomain "github.com/Gsaudx/Advision-sub000/internal/option/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
)

// BuildParams 模板策略的展开参数
type BuildParams struct {
	StockTicker string          `json:"stock_ticker"`
	CallTicker  string          `json:"call_ticker"`
	PutTicker   string          `json:"put_ticker"`
	Quantity    decimal.Decimal `json:"quantity"`
	StockPrice  decimal.Decimal `json:"stock_price"`
	CallPremium decimal.Decimal `json:"call_premium"`
	PutPremium  decimal.Decimal `json:"put_premium"`
}

// BuildStrategy 把模板策略展开成有序的腿。
// 只支持腿形唯一的模板；价差、单腿和自定义策略必须手工给腿，
// 走 ValidateCustomStrategy。
func BuildStrategy(strategyType StrategyType, params BuildParams) ([]Leg, error) {
	if !params.Quantity.IsPositive() {
		return nil, apperr.New(apperr.KindInvalidRequest, "quantity must be positive")
	}
	shares := optiondomain.UnderlyingShares(params.Quantity)

	switch strategyType {
	case StrategyStraddle:
		if params.CallTicker == "" || params.PutTicker == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "straddle requires call and put tickers")
		}
		return []Leg{
			{Ticker: params.CallTicker, Type: LegBuyCall, Quantity: params.Quantity, Price: params.CallPremium},
			{Ticker: params.PutTicker, Type: LegBuyPut, Quantity: params.Quantity, Price: params.PutPremium},
		}, nil
	case StrategyCoveredCall:
		if params.StockTicker == "" || params.CallTicker == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "covered call requires stock and call tickers")
		}
		return []Leg{
			{Ticker: params.StockTicker, Type: LegBuyStock, Quantity: shares, Price: params.StockPrice},
			{Ticker: params.CallTicker, Type: LegSellCall, Quantity: params.Quantity, Price: params.CallPremium},
		}, nil
	case StrategyProtectivePut:
		if params.StockTicker == "" || params.PutTicker == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "protective put requires stock and put tickers")
		}
		return []Leg{
			{Ticker: params.StockTicker, Type: LegBuyStock, Quantity: shares, Price: params.StockPrice},
			{Ticker: params.PutTicker, Type: LegBuyPut, Quantity: params.Quantity, Price: params.PutPremium},
		}, nil
	case StrategyCollar:
		if params.StockTicker == "" || params.CallTicker == "" || params.PutTicker == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "collar requires stock, call and put tickers")
		}
		return []Leg{
			{Ticker: params.StockTicker, Type: LegBuyStock, Quantity: shares, Price: params.StockPrice},
			{Ticker: params.PutTicker, Type: LegBuyPut, Quantity: params.Quantity, Price: params.PutPremium},
			{Ticker: params.CallTicker, Type: LegSellCall, Quantity: params.Quantity, Price: params.CallPremium},
		}, nil
	case StrategyBullCallSpread, StrategyBearPutSpread, StrategySingleOption, StrategyCustom:
		return nil, apperr.Newf(apperr.KindInvalidRequest, "strategy %s requires manually specified legs", strategyType)
	default:
		return nil, apperr.Newf(apperr.KindInvalidRequest, "unknown strategy type %s", strategyType)
	}
}

// CalculateNetPremium 各腿的签名净额。买入减、卖出加，期权腿按合约乘数放大。
// 负数是净支出，正数是净收入。
func CalculateNetPremium(legs []Leg) decimal.Decimal {
	net := decimal.Zero
	for _, leg := range legs {
		value := leg.Price.Mul(leg.Quantity)
		if leg.Type.IsOption() {
			value = value.Mul(decimal.NewFromInt(optiondomain.ContractSize))
		}
		if leg.Type.IsBuy() {
			net = net.Sub(value)
		} else {
			net = net.Add(value)
		}
	}
	return net
}

const maxLegs = 4

// ValidationResult 自定义策略校验结果，错误按腿累积不短路
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// RiskProfile 策略风险画像。MaxLoss/MaxGain 为 nil 表示无界。
type RiskProfile struct {
	MaxLoss         *decimal.Decimal  `json:"max_loss"`
	MaxGain         *decimal.Decimal  `json:"max_gain"`
	BreakEvenPoints []decimal.Decimal `json:"break_even_points"`
	NetPremium      decimal.Decimal   `json:"net_premium"`
	MarginRequired  decimal.Decimal   `json:"margin_required"`
	IsDebitStrategy bool              `json:"is_debit_strategy"`
}

// Builder 校验与风险画像需要解析资产元数据，其余为纯计算
type Builder struct {
	assets assetdomain.Resolver
}

func NewBuilder(assets assetdomain.Resolver) *Builder {
	return &Builder{assets: assets}
}

// ValidateCustomStrategy 校验腿集合：1 到 4 条腿，每条腿的资产类型
// 必须与腿类型一致。所有违规一次性返回。
func (b *Builder) ValidateCustomStrategy(ctx context.Context, legs []Leg) (*ValidationResult, error) {
	result := &ValidationResult{}
	if len(legs) == 0 {
		result.Errors = append(result.Errors, "strategy must contain at least one leg")
		return result, nil
	}
	if len(legs) > maxLegs {
		result.Errors = append(result.Errors, fmt.Sprintf("strategy cannot exceed %d legs", maxLegs))
		return result, nil
	}

	assets := map[string]*assetdomain.Asset{}
	details := map[string]*assetdomain.OptionDetail{}

	for i, leg := range legs {
		if !leg.Quantity.IsPositive() {
			result.Errors = append(result.Errors, fmt.Sprintf("leg %d: quantity must be positive", i+1))
			continue
		}
		asset, ok := assets[leg.Ticker]
		if !ok {
			resolved, err := b.assets.EnsureAssetExists(ctx, leg.Ticker)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("leg %d: cannot resolve asset %s", i+1, leg.Ticker))
				continue
			}
			asset = resolved
			assets[leg.Ticker] = asset
		}

		if !leg.Type.IsOption() {
			if asset.Type != assetdomain.AssetTypeStock {
				result.Errors = append(result.Errors, fmt.Sprintf("leg %d: %s is not a stock", i+1, leg.Ticker))
			}
			continue
		}

		if asset.Type != assetdomain.AssetTypeOption {
			result.Errors = append(result.Errors, fmt.Sprintf("leg %d: %s is not an option", i+1, leg.Ticker))
			continue
		}
		detail, ok := details[leg.Ticker]
		if !ok {
			d, err := b.assets.OptionDetail(ctx, asset.AssetID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("leg %d: missing option detail for %s", i+1, leg.Ticker))
				continue
			}
			detail = d
			details[leg.Ticker] = detail
		}
		if leg.Type.IsCall() && detail.OptionType != assetdomain.OptionTypeCall {
			result.Errors = append(result.Errors, fmt.Sprintf("leg %d: %s is not a call option", i+1, leg.Ticker))
		}
		if leg.Type.IsPut() && detail.OptionType != assetdomain.OptionTypePut {
			result.Errors = append(result.Errors, fmt.Sprintf("leg %d: %s is not a put option", i+1, leg.Ticker))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result, nil
}

// RiskProfile 按策略类型闭式计算最大盈亏、盈亏平衡点与所需担保。
// 空头 PUT 腿统一在末尾累加担保，与策略类型无关。
func (b *Builder) RiskProfile(ctx context.Context, strategyType StrategyType, legs []Leg) (*RiskProfile, error) {
	net := CalculateNetPremium(legs)
	profile := &RiskProfile{
		NetPremium:      net,
		MarginRequired:  decimal.Zero,
		IsDebitStrategy: net.IsNegative(),
	}

	switch strategyType {
	case StrategySingleOption:
		if len(legs) != 1 || !legs[0].Type.IsOption() {
			return nil, apperr.New(apperr.KindInvalidRequest, "single option strategy requires exactly one option leg")
		}
		premium := optiondomain.PremiumValue(legs[0].Price, legs[0].Quantity)
		if legs[0].Type.IsBuy() {
			// 多头：最大亏损为付出的权利金，收益无界
			profile.MaxLoss = &premium
		} else {
			profile.MaxGain = &premium
		}
	case StrategyStraddle:
		paid := net.Neg()
		profile.MaxLoss = &paid
	case StrategyCoveredCall:
		stock, call, err := pickLegs(legs, LegBuyStock, LegSellCall)
		if err != nil {
			return nil, err
		}
		strike, err := b.strikeFor(ctx, call.Ticker)
		if err != nil {
			return nil, err
		}
		premium := optiondomain.PremiumValue(call.Price, call.Quantity)
		maxGain := strike.Sub(stock.Price).Mul(stock.Quantity).Add(premium)
		maxLoss := stock.Price.Mul(stock.Quantity).Sub(premium)
		profile.MaxGain = &maxGain
		profile.MaxLoss = &maxLoss
		profile.BreakEvenPoints = []decimal.Decimal{stock.Price.Sub(call.Price)}
	case StrategyProtectivePut:
		stock, put, err := pickLegs(legs, LegBuyStock, LegBuyPut)
		if err != nil {
			return nil, err
		}
		strike, err := b.strikeFor(ctx, put.Ticker)
		if err != nil {
			return nil, err
		}
		premium := optiondomain.PremiumValue(put.Price, put.Quantity)
		maxLoss := stock.Price.Sub(strike).Mul(stock.Quantity).Add(premium)
		profile.MaxLoss = &maxLoss
		profile.BreakEvenPoints = []decimal.Decimal{stock.Price.Add(put.Price)}
	}

	// 空头 PUT 担保：strike × 合约乘数 × 张数，逐腿累加
	for _, leg := range legs {
		if leg.Type != LegSellPut {
			continue
		}
		strike, err := b.strikeFor(ctx, leg.Ticker)
		if err != nil {
			return nil, err
		}
		profile.MarginRequired = profile.MarginRequired.Add(
			optiondomain.CollateralForShortPut(strike, leg.Quantity))
	}

	return profile, nil
}

// ShortPutMargin 各腿空头 PUT 担保合计，执行器在原子工作单元内用它做担保检查
func (b *Builder) ShortPutMargin(ctx context.Context, legs []Leg) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, leg := range legs {
		if leg.Type != LegSellPut {
			continue
		}
		strike, err := b.strikeFor(ctx, leg.Ticker)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(optiondomain.CollateralForShortPut(strike, leg.Quantity))
	}
	return total, nil
}

func (b *Builder) strikeFor(ctx context.Context, ticker string) (decimal.Decimal, error) {
	asset, err := b.assets.EnsureAssetExists(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}
	detail, err := b.assets.OptionDetail(ctx, asset.AssetID)
	if err != nil {
		return decimal.Zero, err
	}
	return detail.StrikePrice, nil
}

func pickLegs(legs []Leg, first, second LegType) (*Leg, *Leg, error) {
	var a, b *Leg
	for i := range legs {
		switch legs[i].Type {
		case first:
			a = &legs[i]
		case second:
			b = &legs[i]
		}
	}
	if a == nil || b == nil {
		return nil, nil, apperr.Newf(apperr.KindInvalidRequest, "strategy requires %s and %s legs", first, second)
	}
	return a, b, nil
}
