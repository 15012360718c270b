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

// LifecycleService 期权生命周期：行权、被指派、到期。
// 每个转移都是单个工作单元，全部提交或全部回滚。
type LifecycleService struct {
	tx         db.TxManager
	access     walletdomain.AccessControl
	wallets    walletdomain.Repository
	ledger     walletdomain.TransactionRepository
	positions  domain.PositionRepository
	lifecycles domain.LifecycleRepository
	assets     assetdomain.Resolver
	marketData assetdomain.MarketData
	recorder   auditdomain.Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	// now 可注入，测试用
	now func() time.Time
}

func NewLifecycleService(
	tx db.TxManager,
	access walletdomain.AccessControl,
	wallets walletdomain.Repository,
	ledger walletdomain.TransactionRepository,
	positions domain.PositionRepository,
	lifecycles domain.LifecycleRepository,
	assets assetdomain.Resolver,
	marketData assetdomain.MarketData,
	recorder auditdomain.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		tx:         tx,
		access:     access,
		wallets:    wallets,
		ledger:     ledger,
		positions:  positions,
		lifecycles: lifecycles,
		assets:     assets,
		marketData: marketData,
		recorder:   recorder,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock 替换时钟，测试用
func (s *LifecycleService) WithClock(now func() time.Time) *LifecycleService {
	s.now = now
	return s
}

// LifecycleCommand 行权/被指派指令。Quantity 为空时默认全部数量。
type LifecycleCommand struct {
	Quantity       *decimal.Decimal
	IdempotencyKey string
}

// LifecycleResult 生命周期事件结果
type LifecycleResult struct {
	LifecycleID        string                `json:"lifecycle_id"`
	Event              domain.LifecycleEvent `json:"event"`
	TransactionID      string                `json:"transaction_id,omitempty"`
	UnderlyingQuantity decimal.Decimal       `json:"underlying_quantity"`
	SettlementAmount   decimal.Decimal       `json:"settlement_amount"`
	PositionDeleted    bool                  `json:"position_deleted"`
	CollateralReleased decimal.Decimal       `json:"collateral_released"`
	WasInTheMoney      bool                  `json:"was_in_the_money"`
}

// ExercisePosition 多头行权。美式随时可行权，欧式仅到期日起（只比较日期）。
// CALL 按行权价买入标的，PUT 按行权价卖出已持有的标的。
func (s *LifecycleService) ExercisePosition(ctx context.Context, walletID, positionID string, cmd LifecycleCommand, actor walletdomain.Actor) (*LifecycleResult, error) {
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

	var result LifecycleResult
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		position, detail, err := s.loadOptionPosition(ctx, walletID, positionID)
		if err != nil {
			return err
		}
		if !position.IsLong() {
			return apperr.New(apperr.KindInvalidRequest, "only long positions can be exercised")
		}
		if !detail.CanExercise(s.now()) {
			return apperr.New(apperr.KindInvalidRequest, "european option cannot be exercised before expiration")
		}

		exercised, err := resolveEventQuantity(cmd.Quantity, position.AbsQuantity())
		if err != nil {
			return err
		}

		underlyingQty := domain.UnderlyingShares(exercised)
		settlement := detail.StrikePrice.Mul(underlyingQty)

		var txnType walletdomain.TransactionType = walletdomain.TransactionTypeOptionExercise
		if detail.OptionType == assetdomain.OptionTypeCall {
			// 按行权价买入标的
			ok, err := s.wallets.DebitCash(ctx, walletID, settlement)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Newf(apperr.KindInsufficientFunds, "cash balance below exercise cost %s", settlement)
			}
			if err := s.mergeUnderlying(ctx, walletID, detail.UnderlyingAssetID, underlyingQty, detail.StrikePrice); err != nil {
				return err
			}
		} else {
			// 按行权价卖出已持有的标的
			if err := s.reduceUnderlying(ctx, walletID, detail.UnderlyingAssetID, underlyingQty, detail.StrikePrice); err != nil {
				return err
			}
			if err := s.wallets.CreditCash(ctx, walletID, settlement); err != nil {
				return err
			}
		}

		deleted, err := s.shrinkOptionPosition(ctx, position, exercised)
		if err != nil {
			return err
		}

		txn := &walletdomain.Transaction{
			TransactionID:  fmt.Sprintf("TXN-%s", uuid.NewString()),
			WalletID:       walletID,
			AssetID:        detail.UnderlyingAssetID,
			Type:           txnType,
			Quantity:       underlyingQty,
			Price:          detail.StrikePrice,
			TotalValue:     settlement,
			ExecutedAt:     s.now(),
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.ledger.Create(ctx, txn); err != nil {
			return mapDomainErr(err)
		}

		record := &domain.OptionLifecycle{
			LifecycleID:            uuid.NewString(),
			PositionID:             position.PositionID,
			WalletID:               walletID,
			Event:                  domain.LifecycleEventExercised,
			UnderlyingQuantity:     underlyingQty,
			StrikePrice:            detail.StrikePrice,
			SettlementAmount:       settlement,
			ResultingTransactionID: txn.TransactionID,
		}
		if err := s.lifecycles.Create(ctx, record); err != nil {
			return err
		}

		result = LifecycleResult{
			LifecycleID:        record.LifecycleID,
			Event:              domain.LifecycleEventExercised,
			TransactionID:      txn.TransactionID,
			UnderlyingQuantity: underlyingQty,
			SettlementAmount:   settlement,
			PositionDeleted:    deleted,
		}

		return s.recordLifecycle(ctx, walletID, record, actor)
	})
	if err != nil {
		return nil, mapDomainErr(err)
	}

	if s.metrics != nil {
		s.metrics.LifecycleEventsTotal.WithLabelValues(string(domain.LifecycleEventExercised)).Inc()
	}
	s.logger.InfoContext(ctx, "option exercised",
		"wallet_id", walletID, "position_id", positionID,
		"underlying_quantity", result.UnderlyingQuantity, "settlement", result.SettlementAmount)

	return &result, nil
}

// AssignPosition 空头被指派，是行权在义务方的镜像。
// 空头 CALL 交割股份收取行权款；空头 PUT 按行权价买入股份并按比例释放担保。
func (s *LifecycleService) AssignPosition(ctx context.Context, walletID, positionID string, cmd LifecycleCommand, actor walletdomain.Actor) (*LifecycleResult, error) {
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

	var result LifecycleResult
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		position, detail, err := s.loadOptionPosition(ctx, walletID, positionID)
		if err != nil {
			return err
		}
		if !position.IsShort() {
			return apperr.New(apperr.KindInvalidRequest, "only short positions can be assigned")
		}

		assigned, err := resolveEventQuantity(cmd.Quantity, position.AbsQuantity())
		if err != nil {
			return err
		}

		underlyingQty := domain.UnderlyingShares(assigned)
		settlement := detail.StrikePrice.Mul(underlyingQty)

		if detail.OptionType == assetdomain.OptionTypeCall {
			// 交割股份，收取行权款
			if err := s.reduceUnderlying(ctx, walletID, detail.UnderlyingAssetID, underlyingQty, detail.StrikePrice); err != nil {
				return err
			}
			if err := s.wallets.CreditCash(ctx, walletID, settlement); err != nil {
				return err
			}
		} else {
			// 按行权价承接股份
			ok, err := s.wallets.DebitCash(ctx, walletID, settlement)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Newf(apperr.KindInsufficientFunds, "cash balance below assignment cost %s", settlement)
			}
			if err := s.mergeUnderlying(ctx, walletID, detail.UnderlyingAssetID, underlyingQty, detail.StrikePrice); err != nil {
				return err
			}
		}

		var released decimal.Decimal
		if collateral := position.Collateral(); collateral.IsPositive() {
			oldAbs := position.AbsQuantity()
			newAbs := oldAbs.Sub(assigned)
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

		deleted, err := s.shrinkOptionPosition(ctx, position, assigned)
		if err != nil {
			return err
		}

		txn := &walletdomain.Transaction{
			TransactionID:  fmt.Sprintf("TXN-%s", uuid.NewString()),
			WalletID:       walletID,
			AssetID:        detail.UnderlyingAssetID,
			Type:           walletdomain.TransactionTypeOptionAssignment,
			Quantity:       underlyingQty,
			Price:          detail.StrikePrice,
			TotalValue:     settlement,
			ExecutedAt:     s.now(),
			IdempotencyKey: cmd.IdempotencyKey,
		}
		if err := s.ledger.Create(ctx, txn); err != nil {
			return mapDomainErr(err)
		}

		record := &domain.OptionLifecycle{
			LifecycleID:            uuid.NewString(),
			PositionID:             position.PositionID,
			WalletID:               walletID,
			Event:                  domain.LifecycleEventAssigned,
			UnderlyingQuantity:     underlyingQty,
			StrikePrice:            detail.StrikePrice,
			SettlementAmount:       settlement,
			ResultingTransactionID: txn.TransactionID,
		}
		if err := s.lifecycles.Create(ctx, record); err != nil {
			return err
		}

		result = LifecycleResult{
			LifecycleID:        record.LifecycleID,
			Event:              domain.LifecycleEventAssigned,
			TransactionID:      txn.TransactionID,
			UnderlyingQuantity: underlyingQty,
			SettlementAmount:   settlement,
			PositionDeleted:    deleted,
			CollateralReleased: released,
		}

		return s.recordLifecycle(ctx, walletID, record, actor)
	})
	if err != nil {
		return nil, mapDomainErr(err)
	}

	if s.metrics != nil {
		s.metrics.LifecycleEventsTotal.WithLabelValues(string(domain.LifecycleEventAssigned)).Inc()
	}
	s.logger.InfoContext(ctx, "option assigned",
		"wallet_id", walletID, "position_id", positionID,
		"underlying_quantity", result.UnderlyingQuantity,
		"collateral_released", result.CollateralReleased)

	return &result, nil
}

// ExpirePosition 处理到期。只分类价内/价外并记录事件，不做经济结算：
// 价内到期也不自动行权，这是有意保留的产品行为，结算只能通过到期前手动行权完成。
// 删除持仓、全额释放剩余担保。
func (s *LifecycleService) ExpirePosition(ctx context.Context, walletID, positionID string, actor walletdomain.Actor) (*LifecycleResult, error) {
	if _, err := s.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}

	var result LifecycleResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		position, detail, err := s.loadOptionPosition(ctx, walletID, positionID)
		if err != nil {
			return err
		}
		if !detail.IsExpirable(s.now()) {
			return apperr.New(apperr.KindInvalidRequest, "option has not reached expiration")
		}

		// 现价不可得时按价外归类，不中断到期处理
		wasITM := false
		if spot, ok := s.spotFor(ctx, detail.UnderlyingAssetID); ok {
			wasITM = detail.IsInTheMoney(spot)
		}

		var released decimal.Decimal
		if collateral := position.Collateral(); collateral.IsPositive() {
			released = collateral
			if err := s.wallets.ReleaseCollateral(ctx, walletID, released); err != nil {
				return err
			}
		}

		if err := s.positions.Delete(ctx, position.PositionID); err != nil {
			return err
		}

		event := domain.LifecycleEventExpiredOTM
		if wasITM {
			event = domain.LifecycleEventExpiredITM
		}

		record := &domain.OptionLifecycle{
			LifecycleID:        uuid.NewString(),
			PositionID:         position.PositionID,
			WalletID:           walletID,
			Event:              event,
			UnderlyingQuantity: domain.UnderlyingShares(position.AbsQuantity()),
			StrikePrice:        detail.StrikePrice,
			SettlementAmount:   decimal.Zero,
			WasInTheMoney:      wasITM,
		}
		if err := s.lifecycles.Create(ctx, record); err != nil {
			return err
		}

		result = LifecycleResult{
			LifecycleID:        record.LifecycleID,
			Event:              event,
			UnderlyingQuantity: record.UnderlyingQuantity,
			SettlementAmount:   decimal.Zero,
			PositionDeleted:    true,
			CollateralReleased: released,
			WasInTheMoney:      wasITM,
		}

		return s.recordLifecycle(ctx, walletID, record, actor)
	})
	if err != nil {
		return nil, mapDomainErr(err)
	}

	if s.metrics != nil {
		s.metrics.LifecycleEventsTotal.WithLabelValues(string(result.Event)).Inc()
	}
	s.logger.InfoContext(ctx, "option expired",
		"wallet_id", walletID, "position_id", positionID,
		"event", result.Event, "collateral_released", result.CollateralReleased)

	return &result, nil
}

// ExpiringPosition 即将到期的持仓投影
type ExpiringPosition struct {
	PositionID     string                `json:"position_id"`
	Ticker         string                `json:"ticker"`
	Quantity       decimal.Decimal       `json:"quantity"`
	StrikePrice    decimal.Decimal       `json:"strike_price"`
	ExpirationDate time.Time             `json:"expiration_date"`
	OptionType     assetdomain.OptionType `json:"option_type"`
	SpotPrice      *decimal.Decimal      `json:"spot_price,omitempty"`
	Moneyness      assetdomain.Moneyness `json:"moneyness"`
}

// UpcomingExpirations 只读投影：N 天内到期的期权持仓，批量取现价标注价值状态。
// 窗口只设上界：已过到期日但尚未走 ExpirePosition 的持仓继续返回，直到被处理。
// 缺失报价的持仓 Moneyness 为 UNKNOWN。
func (s *LifecycleService) UpcomingExpirations(ctx context.Context, walletID string, days int, actor walletdomain.Actor) ([]*ExpiringPosition, error) {
	if days <= 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "days must be positive")
	}

	if _, err := s.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}

	positions, err := s.positions.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().AddDate(0, 0, days)

	type candidate struct {
		position   *domain.Position
		detail     *assetdomain.OptionDetail
		ticker     string
		underlying string
	}
	var candidates []candidate
	underlyingTickers := map[string]struct{}{}

	for _, p := range positions {
		a, err := s.assets.GetByID(ctx, p.AssetID)
		if err != nil {
			return nil, mapDomainErr(err)
		}
		if a.Type != assetdomain.AssetTypeOption {
			continue
		}
		detail, err := s.assets.OptionDetail(ctx, p.AssetID)
		if err != nil {
			return nil, mapDomainErr(err)
		}
		if detail.ExpirationDate.After(cutoff) {
			continue
		}
		u, err := s.assets.GetByID(ctx, detail.UnderlyingAssetID)
		if err != nil {
			return nil, mapDomainErr(err)
		}
		candidates = append(candidates, candidate{position: p, detail: detail, ticker: a.Ticker, underlying: u.Ticker})
		underlyingTickers[u.Ticker] = struct{}{}
	}

	tickers := make([]string, 0, len(underlyingTickers))
	for t := range underlyingTickers {
		tickers = append(tickers, t)
	}
	prices, err := s.marketData.GetBatchPrices(ctx, tickers)
	if err != nil {
		s.logger.WarnContext(ctx, "batch price lookup failed, moneyness degraded", "error", err)
		prices = map[string]decimal.Decimal{}
	}

	out := make([]*ExpiringPosition, 0, len(candidates))
	for _, c := range candidates {
		ep := &ExpiringPosition{
			PositionID:     c.position.PositionID,
			Ticker:         c.ticker,
			Quantity:       c.position.Quantity,
			StrikePrice:    c.detail.StrikePrice,
			ExpirationDate: c.detail.ExpirationDate,
			OptionType:     c.detail.OptionType,
			Moneyness:      assetdomain.MoneynessUnknown,
		}
		if spot, ok := prices[c.underlying]; ok {
			s := spot
			ep.SpotPrice = &s
			ep.Moneyness = c.detail.Classify(spot)
		}
		out = append(out, ep)
	}
	return out, nil
}

// loadOptionPosition 加载持仓并校验归属与期权属性
func (s *LifecycleService) loadOptionPosition(ctx context.Context, walletID, positionID string) (*domain.Position, *assetdomain.OptionDetail, error) {
	position, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, nil, err
	}
	if position.WalletID != walletID {
		return nil, nil, domain.ErrPositionNotFound
	}
	detail, err := s.assets.OptionDetail(ctx, position.AssetID)
	if err != nil {
		return nil, nil, err
	}
	return position, detail, nil
}

// shrinkOptionPosition 把期权持仓向零收敛 contracts 张，归零则删除
func (s *LifecycleService) shrinkOptionPosition(ctx context.Context, position *domain.Position, contracts decimal.Decimal) (bool, error) {
	delta := contracts
	if position.IsLong() {
		delta = contracts.Neg()
	}
	fill := domain.ApplyFill(position.Quantity, position.AveragePrice, delta, position.AveragePrice)
	if fill.Closed {
		return true, s.positions.Delete(ctx, position.PositionID)
	}
	position.Quantity = fill.Quantity
	position.AveragePrice = fill.AveragePrice
	return false, s.positions.Save(ctx, position)
}

// mergeUnderlying 标的入账：并入现有持仓或新建
func (s *LifecycleService) mergeUnderlying(ctx context.Context, walletID, assetID string, shares, price decimal.Decimal) error {
	existing, err := s.positions.GetByWalletAndAsset(ctx, walletID, assetID)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.positions.Save(ctx, &domain.Position{
			PositionID:   uuid.NewString(),
			WalletID:     walletID,
			AssetID:      assetID,
			Quantity:     shares,
			AveragePrice: price,
		})
	}
	fill := domain.ApplyFill(existing.Quantity, existing.AveragePrice, shares, price)
	existing.Quantity = fill.Quantity
	existing.AveragePrice = fill.AveragePrice
	return s.positions.Save(ctx, existing)
}

// reduceUnderlying 标的出库：持仓不足返回 ErrInsufficientUnderlying
func (s *LifecycleService) reduceUnderlying(ctx context.Context, walletID, assetID string, shares, price decimal.Decimal) error {
	existing, err := s.positions.GetByWalletAndAsset(ctx, walletID, assetID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Quantity.LessThan(shares) {
		return domain.ErrInsufficientUnderlying
	}
	fill := domain.ApplyFill(existing.Quantity, existing.AveragePrice, shares.Neg(), price)
	if fill.Closed {
		return s.positions.Delete(ctx, existing.PositionID)
	}
	existing.Quantity = fill.Quantity
	existing.AveragePrice = fill.AveragePrice
	return s.positions.Save(ctx, existing)
}

// spotFor 取标的现价；取不到按"价格未知"处理
func (s *LifecycleService) spotFor(ctx context.Context, underlyingAssetID string) (decimal.Decimal, bool) {
	u, err := s.assets.GetByID(ctx, underlyingAssetID)
	if err != nil {
		return decimal.Zero, false
	}
	spot, err := s.marketData.GetPrice(ctx, u.Ticker)
	if err != nil {
		return decimal.Zero, false
	}
	return spot, true
}

func resolveEventQuantity(requested *decimal.Decimal, available decimal.Decimal) (decimal.Decimal, error) {
	if requested == nil {
		return available, nil
	}
	if !requested.IsPositive() {
		return decimal.Zero, apperr.New(apperr.KindInvalidRequest, "quantity must be positive")
	}
	if requested.GreaterThan(available) {
		return decimal.Zero, domain.ErrInsufficientPosition
	}
	return *requested, nil
}

func (s *LifecycleService) recordLifecycle(ctx context.Context, walletID string, record *domain.OptionLifecycle, actor walletdomain.Actor) error {
	if err := s.recorder.Log(ctx, auditdomain.AuditEntry{
		TableName: "option_lifecycles",
		RecordID:  record.LifecycleID,
		Action:    "CREATE",
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Context: map[string]any{
			"wallet_id":   walletID,
			"position_id": record.PositionID,
			"event":       record.Event,
		},
	}); err != nil {
		return err
	}
	return s.recorder.Record(ctx, auditdomain.Event{
		AggregateType: "position",
		AggregateID:   record.PositionID,
		EventType:     "option.lifecycle." + string(record.Event),
		Payload: map[string]any{
			"lifecycle_id":        record.LifecycleID,
			"wallet_id":           walletID,
			"underlying_quantity": record.UnderlyingQuantity.String(),
			"strike_price":        record.StrikePrice.String(),
			"settlement_amount":   record.SettlementAmount.String(),
			"was_in_the_money":    record.WasInTheMoney,
		},
		ActorID: actor.ID,
	})
}
