package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	auditdomain "github.com/Gsaudx/Advision-sub000/internal/audit/domain"
	"github.com/Gsaudx/Advision-sub000/internal/option/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
	"github.com/Gsaudx/Advision-sub000/pkg/metrics"
)

// TradeService 单腿期权交易：买入开仓、卖出开仓、平仓
type TradeService struct {
	tx        db.TxManager
	access    walletdomain.AccessControl
	wallets   walletdomain.Repository
	ledger    walletdomain.TransactionRepository
	positions domain.PositionRepository
	assets    assetdomain.Resolver
	recorder  auditdomain.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewTradeService(
	tx db.TxManager,
	access walletdomain.AccessControl,
	wallets walletdomain.Repository,
	ledger walletdomain.TransactionRepository,
	positions domain.PositionRepository,
	assets assetdomain.Resolver,
	recorder auditdomain.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		tx:        tx,
		access:    access,
		wallets:   wallets,
		ledger:    ledger,
		positions: positions,
		assets:    assets,
		recorder:  recorder,
		metrics:   m,
		logger:    logger,
	}
}

// BuyOptionCommand 买入开仓指令
type BuyOptionCommand struct {
	Ticker         string
	Quantity       decimal.Decimal
	Premium        decimal.Decimal
	ExecutedAt     time.Time
	IdempotencyKey string
}

// SellOptionCommand 卖出开仓指令。Covered 声明备兑 CALL。
type SellOptionCommand struct {
	Ticker         string
	Quantity       decimal.Decimal
	Premium        decimal.Decimal
	Covered        bool
	ExecutedAt     time.Time
	IdempotencyKey string
}

// CloseOptionCommand 平仓指令。Quantity 为空时默认全部平仓。
type CloseOptionCommand struct {
	Quantity       *decimal.Decimal
	Premium        decimal.Decimal
	ExecutedAt     time.Time
	IdempotencyKey string
}

// TradeResult 交易结果
type TradeResult struct {
	TransactionID      string          `json:"transaction_id"`
	PositionID         string          `json:"position_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	AveragePrice       decimal.Decimal `json:"average_price"`
	PositionClosed     bool            `json:"position_closed"`
	CollateralBlocked  decimal.Decimal `json:"collateral_blocked"`
	CollateralReleased decimal.Decimal `json:"collateral_released"`
}

func validateTradeInput(quantity, premium decimal.Decimal, idempotencyKey string) error {
	if !quantity.IsPositive() {
		return apperr.New(apperr.KindInvalidRequest, "quantity must be positive")
	}
	if premium.IsNegative() {
		return apperr.New(apperr.KindInvalidRequest, "premium must not be negative")
	}
	if idempotencyKey == "" {
		return apperr.New(apperr.KindInvalidRequest, "idempotency key is required")
	}
	return nil
}

// BuyOption 买入开仓（或加仓多头）
func (s *TradeService) BuyOption(ctx context.Context, walletID string, cmd BuyOptionCommand, actor walletdomain.Actor) (*TradeResult, error) {
	if err := validateTradeInput(cmd.Quantity, cmd.Premium, cmd.IdempotencyKey); err != nil {
		return nil, err
	}

	if _, err := s.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}

	// 预检只是优化，提交期唯一索引才是权威去重
	exists, err := s.ledger.ExistsByIdempotencyKey(ctx, walletID, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.KindConflict, "idempotency key already used")
	}

	asset, err := s.assets.EnsureAssetExists(ctx, cmd.Ticker)
	if err != nil {
		return nil, mapDomainErr(err)
	}
	if asset.Type != assetdomain.AssetTypeOption {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "ticker %s is not an option", cmd.Ticker)
	}
	if _, err := s.assets.OptionDetail(ctx, asset.AssetID); err != nil {
		return nil, mapDomainErr(err)
	}

	totalCost := domain.PremiumValue(cmd.Premium, cmd.Quantity)

	var result TradeResult
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.wallets.DebitCash(ctx, walletID, totalCost)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Newf(apperr.KindInsufficientFunds, "cash balance below %s", totalCost)
		}

		position, err := s.applyPositionFill(ctx, walletID, asset.AssetID, cmd.Quantity, cmd.Premium)
		if err != nil {
			return err
		}

		txn := &walletdomain.Transaction{
			TransactionID:  fmt.Sprintf("TXN-%s", uuid.NewString()),
			WalletID:       walletID,
			AssetID:        asset.AssetID,
			Type:           walletdomain.TransactionTypeBuy,
			Quantity:       cmd.Quantity,
			Price:          cmd.Premium,
			TotalValue:     totalCost,
			ExecutedAt:     cmd.ExecutedAt,
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.ledger.Create(ctx, txn); err != nil {
			return mapDomainErr(err)
		}

		result = TradeResult{
			TransactionID: txn.TransactionID,
			PositionID:    position.PositionID,
			Quantity:      position.Quantity,
			AveragePrice:  position.AveragePrice,
		}

		return s.recordTrade(ctx, walletID, txn, actor, "option.bought")
	})
	if err != nil {
		return nil, mapDomainErr(err)
	}

	if s.metrics != nil {
		s.metrics.TradesTotal.WithLabelValues("buy").Inc()
	}
	s.logger.InfoContext(ctx, "option bought",
		"wallet_id", walletID, "ticker", cmd.Ticker,
		"quantity", cmd.Quantity, "total_cost", totalCost)

	return &result, nil
}

// SellOption 卖出开仓（或加仓空头）。卖方收取权利金，不做现金预检；
// 产生空头 PUT 敞口时按行权价冻结担保，备兑 CALL 校验标的持仓。
func (s *TradeService) SellOption(ctx context.Context, walletID string, cmd SellOptionCommand, actor walletdomain.Actor) (*TradeResult, error) {
	if err := validateTradeInput(cmd.Quantity, cmd.Premium, cmd.IdempotencyKey); err != nil {
		return nil, err
	}

	if _, err := s.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}

	exists, err := s.ledger.ExistsByIdempotencyKey(ctx, walletID, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.KindConflict, "idempotency key already used")
	}

	asset, err := s.assets.EnsureAssetExists(ctx, cmd.Ticker)
	if err != nil {
		return nil, mapDomainErr(err)
	}
	if asset.Type != assetdomain.AssetTypeOption {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "ticker %s is not an option", cmd.Ticker)
	}
	detail, err := s.assets.OptionDetail(ctx, asset.AssetID)
	if err != nil {
		return nil, mapDomainErr(err)
	}
	if cmd.Covered && detail.OptionType != assetdomain.OptionTypeCall {
		return nil, apperr.New(apperr.KindInvalidRequest, "covered flag only applies to calls")
	}

	premium := domain.PremiumValue(cmd.Premium, cmd.Quantity)

	var result TradeResult
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.positions.GetByWalletAndAsset(ctx, walletID, asset.AssetID)
		if err != nil {
			return err
		}

		if cmd.Covered {
			required := domain.UnderlyingShares(cmd.Quantity)
			if err := s.requireUnderlying(ctx, walletID, detail.UnderlyingAssetID, required); err != nil {
				return err
			}
		}

		var oldQty, oldAvg decimal.Decimal
		if existing != nil {
			oldQty, oldAvg = existing.Quantity, existing.AveragePrice
		}
		fill := domain.ApplyFill(oldQty, oldAvg, cmd.Quantity.Neg(), cmd.Premium)

		// 本笔新增的空头敞口（张）
		shortBefore := decimal.Zero
		if oldQty.IsNegative() {
			shortBefore = oldQty.Abs()
		}
		shortAfter := decimal.Zero
		if fill.Quantity.IsNegative() {
			shortAfter = fill.Quantity.Abs()
		}
		newShortContracts := shortAfter.Sub(shortBefore)

		var blocked decimal.Decimal
		if newShortContracts.IsPositive() && detail.OptionType == assetdomain.OptionTypePut {
			blocked = domain.CollateralForShortPut(detail.StrikePrice, newShortContracts)
			ok, err := s.wallets.BlockCollateral(ctx, walletID, blocked)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Newf(apperr.KindInsufficientCollateral, "unblocked cash below required collateral %s", blocked)
			}
		}

		position, err := s.storeFill(ctx, walletID, asset.AssetID, existing, fill, blocked)
		if err != nil {
			return err
		}

		if err := s.wallets.CreditCash(ctx, walletID, premium); err != nil {
			return err
		}

		txn := &walletdomain.Transaction{
			TransactionID:  fmt.Sprintf("TXN-%s", uuid.NewString()),
			WalletID:       walletID,
			AssetID:        asset.AssetID,
			Type:           walletdomain.TransactionTypeSell,
			Quantity:       cmd.Quantity,
			Price:          cmd.Premium,
			TotalValue:     premium,
			ExecutedAt:     cmd.ExecutedAt,
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.ledger.Create(ctx, txn); err != nil {
			return mapDomainErr(err)
		}

		result = TradeResult{
			TransactionID:     txn.TransactionID,
			CollateralBlocked: blocked,
		}
		if position != nil {
			result.PositionID = position.PositionID
			result.Quantity = position.Quantity
			result.AveragePrice = position.AveragePrice
		}
		result.PositionClosed = fill.Closed

		return s.recordTrade(ctx, walletID, txn, actor, "option.sold")
	})
	if err != nil {
		return nil, mapDomainErr(err)
	}

	if s.metrics != nil {
		s.metrics.TradesTotal.WithLabelValues("sell").Inc()
	}
	s.logger.InfoContext(ctx, "option sold",
		"wallet_id", walletID, "ticker", cmd.Ticker,
		"quantity", cmd.Quantity, "premium", premium,
		"collateral_blocked", result.CollateralBlocked)

	return &result, nil
}

// CloseOptionPosition 平掉指定持仓的全部或部分。
// 平多头收回权利金；买回空头条件扣现金并按比例释放担保。
func (s *TradeService) CloseOptionPosition(ctx context.Context, walletID, positionID string, cmd CloseOptionCommand, actor walletdomain.Actor) (*TradeResult, error) {
	if cmd.Premium.IsNegative() {
		return nil, apperr.New(apperr.KindInvalidRequest, "premium must not be negative")
	}
	if cmd.IdempotencyKey == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "idempotency key is required")
	}

	if _, err := s.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}

	exists, err := s.ledger.ExistsByIdempotencyKey(ctx, walletID, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.KindConflict, "idempotency key already used")
	}

	var result TradeResult
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		position, err := s.positions.GetByID(ctx, positionID)
		if err != nil {
			return err
		}
		if position.WalletID != walletID {
			return domain.ErrPositionNotFound
		}

		closeQty := position.AbsQuantity()
		if cmd.Quantity != nil {
			closeQty = *cmd.Quantity
			if !closeQty.IsPositive() {
				return apperr.New(apperr.KindInvalidRequest, "close quantity must be positive")
			}
			if closeQty.GreaterThan(position.AbsQuantity()) {
				return domain.ErrInsufficientPosition
			}
		}

		premium := domain.PremiumValue(cmd.Premium, closeQty)
		var txnType walletdomain.TransactionType
		var released decimal.Decimal

		if position.IsLong() {
			txnType = walletdomain.TransactionTypeSell
			if err := s.wallets.CreditCash(ctx, walletID, premium); err != nil {
				return err
			}
		} else {
			txnType = walletdomain.TransactionTypeBuy
			ok, err := s.wallets.DebitCash(ctx, walletID, premium)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Newf(apperr.KindInsufficientFunds, "cash balance below buyback cost %s", premium)
			}

			if collateral := position.Collateral(); collateral.IsPositive() {
				oldAbs := position.AbsQuantity()
				newAbs := oldAbs.Sub(closeQty)
				remaining := domain.ScaleCollateral(collateral, oldAbs, newAbs)
				released = collateral.Sub(remaining)
				if err := s.wallets.ReleaseCollateral(ctx, walletID, released); err != nil {
					return err
				}
				position.CollateralBlocked = decimal.NewNullDecimal(remaining)
				if newAbs.IsZero() {
					position.CollateralBlocked = decimal.NullDecimal{}
				}
			}
		}

		delta := closeQty
		if position.IsLong() {
			delta = closeQty.Neg()
		}
		fill := domain.ApplyFill(position.Quantity, position.AveragePrice, delta, cmd.Premium)

		if fill.Closed {
			if err := s.positions.Delete(ctx, position.PositionID); err != nil {
				return err
			}
		} else {
			position.Quantity = fill.Quantity
			position.AveragePrice = fill.AveragePrice
			if err := s.positions.Save(ctx, position); err != nil {
				return err
			}
		}

		txn := &walletdomain.Transaction{
			TransactionID:  fmt.Sprintf("TXN-%s", uuid.NewString()),
			WalletID:       walletID,
			AssetID:        position.AssetID,
			Type:           txnType,
			Quantity:       closeQty,
			Price:          cmd.Premium,
			TotalValue:     premium,
			ExecutedAt:     cmd.ExecutedAt,
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.ledger.Create(ctx, txn); err != nil {
			return mapDomainErr(err)
		}

		result = TradeResult{
			TransactionID:      txn.TransactionID,
			PositionID:         position.PositionID,
			Quantity:           fill.Quantity,
			AveragePrice:       fill.AveragePrice,
			PositionClosed:     fill.Closed,
			CollateralReleased: released,
		}

		return s.recordTrade(ctx, walletID, txn, actor, "option.position_closed")
	})
	if err != nil {
		return nil, mapDomainErr(err)
	}

	if s.metrics != nil {
		s.metrics.TradesTotal.WithLabelValues("close").Inc()
	}
	s.logger.InfoContext(ctx, "option position closed",
		"wallet_id", walletID, "position_id", positionID,
		"closed", result.PositionClosed, "collateral_released", result.CollateralReleased)

	return &result, nil
}

// PositionView 持仓投影
type PositionView struct {
	PositionID        string          `json:"position_id"`
	AssetID           string          `json:"asset_id"`
	Ticker            string          `json:"ticker"`
	AssetType         assetdomain.AssetType `json:"asset_type"`
	Quantity          decimal.Decimal `json:"quantity"`
	AveragePrice      decimal.Decimal `json:"average_price"`
	CollateralBlocked decimal.Decimal `json:"collateral_blocked"`
}

// ListPositions 钱包全部持仓投影
func (s *TradeService) ListPositions(ctx context.Context, walletID string, actor walletdomain.Actor) ([]*PositionView, error) {
	if _, err := s.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}
	positions, err := s.positions.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	out := make([]*PositionView, 0, len(positions))
	for _, p := range positions {
		asset, err := s.assets.GetByID(ctx, p.AssetID)
		if err != nil {
			return nil, mapDomainErr(err)
		}
		out = append(out, &PositionView{
			PositionID:        p.PositionID,
			AssetID:           p.AssetID,
			Ticker:            asset.Ticker,
			AssetType:         asset.Type,
			Quantity:          p.Quantity,
			AveragePrice:      p.AveragePrice,
			CollateralBlocked: p.Collateral(),
		})
	}
	return out, nil
}

// applyPositionFill 加载持仓、应用成交并落库（多头买入路径，无担保变动）
func (s *TradeService) applyPositionFill(ctx context.Context, walletID, assetID string, deltaQty, price decimal.Decimal) (*domain.Position, error) {
	existing, err := s.positions.GetByWalletAndAsset(ctx, walletID, assetID)
	if err != nil {
		return nil, err
	}

	var oldQty, oldAvg decimal.Decimal
	if existing != nil {
		oldQty, oldAvg = existing.Quantity, existing.AveragePrice
	}
	fill := domain.ApplyFill(oldQty, oldAvg, deltaQty, price)
	return s.storeFill(ctx, walletID, assetID, existing, fill, decimal.Zero)
}

// storeFill 将成交结果写回持仓表：新建、更新或删除
func (s *TradeService) storeFill(ctx context.Context, walletID, assetID string, existing *domain.Position, fill domain.FillResult, addedCollateral decimal.Decimal) (*domain.Position, error) {
	if fill.Closed {
		if existing != nil {
			if err := s.positions.Delete(ctx, existing.PositionID); err != nil {
				return nil, err
			}
			existing.Quantity = decimal.Zero
		}
		return existing, nil
	}

	if existing == nil {
		p := &domain.Position{
			PositionID:   uuid.NewString(),
			WalletID:     walletID,
			AssetID:      assetID,
			Quantity:     fill.Quantity,
			AveragePrice: fill.AveragePrice,
		}
		if addedCollateral.IsPositive() {
			p.CollateralBlocked = decimal.NewNullDecimal(addedCollateral)
		}
		if err := s.positions.Save(ctx, p); err != nil {
			return nil, mapDomainErr(err)
		}
		return p, nil
	}

	existing.Quantity = fill.Quantity
	existing.AveragePrice = fill.AveragePrice
	if addedCollateral.IsPositive() {
		existing.CollateralBlocked = decimal.NewNullDecimal(existing.Collateral().Add(addedCollateral))
	}
	if err := s.positions.Save(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// requireUnderlying 校验钱包持有足额标的股份
func (s *TradeService) requireUnderlying(ctx context.Context, walletID, underlyingAssetID string, required decimal.Decimal) error {
	underlying, err := s.positions.GetByWalletAndAsset(ctx, walletID, underlyingAssetID)
	if err != nil {
		return err
	}
	if underlying == nil || underlying.Quantity.LessThan(required) {
		return domain.ErrInsufficientUnderlying
	}
	return nil
}

func (s *TradeService) recordTrade(ctx context.Context, walletID string, txn *walletdomain.Transaction, actor walletdomain.Actor, eventType string) error {
	if err := s.recorder.Log(ctx, auditdomain.AuditEntry{
		TableName: "transactions",
		RecordID:  txn.TransactionID,
		Action:    "CREATE",
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Context: map[string]any{
			"wallet_id": walletID,
			"asset_id":  txn.AssetID,
			"type":      txn.Type,
		},
	}); err != nil {
		return err
	}
	return s.recorder.Record(ctx, auditdomain.Event{
		AggregateType: "wallet",
		AggregateID:   walletID,
		EventType:     eventType,
		Payload: map[string]any{
			"transaction_id": txn.TransactionID,
			"asset_id":       txn.AssetID,
			"quantity":       txn.Quantity.String(),
			"price":          txn.Price.String(),
			"total_value":    txn.TotalValue.String(),
		},
		ActorID: actor.ID,
	})
}
