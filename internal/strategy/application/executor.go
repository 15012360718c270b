package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	auditdomain "github.com/Gsaudx/Advision-sub000/internal/audit/domain"
	optiondomain "github.com/Gsaudx/Advision-sub000/internal/option/domain"
	"github.com/Gsaudx/Advision-sub000/internal/strategy/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
	"github.com/Gsaudx/Advision-sub000/pkg/metrics"
)

const (
	minPageSize = 1
	maxPageSize = 100
)

// Executor 多腿策略的原子执行：全部腿成交并更新钱包，或整体回滚
type Executor struct {
	tx         db.TxManager
	access     walletdomain.AccessControl
	wallets    walletdomain.Repository
	ledger     walletdomain.TransactionRepository
	positions  optiondomain.PositionRepository
	operations domain.Repository
	assets     assetdomain.Resolver
	builder    *domain.Builder
	recorder   auditdomain.Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewExecutor(
	tx db.TxManager,
	access walletdomain.AccessControl,
	wallets walletdomain.Repository,
	ledger walletdomain.TransactionRepository,
	positions optiondomain.PositionRepository,
	operations domain.Repository,
	assets assetdomain.Resolver,
	builder *domain.Builder,
	recorder auditdomain.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		tx:         tx,
		access:     access,
		wallets:    wallets,
		ledger:     ledger,
		positions:  positions,
		operations: operations,
		assets:     assets,
		builder:    builder,
		recorder:   recorder,
		metrics:    m,
		logger:     logger,
	}
}

// ExecuteStrategyCommand 策略执行指令
type ExecuteStrategyCommand struct {
	StrategyType   domain.StrategyType
	Legs           []domain.Leg
	ExecutedAt     time.Time
	Notes          string
	IdempotencyKey string
	CorrelationID  string
}

// StrategyResult 执行结果
type StrategyResult struct {
	OperationID    string                 `json:"operation_id"`
	StrategyType   domain.StrategyType    `json:"strategy_type"`
	Status         domain.OperationStatus `json:"status"`
	TotalPremium   decimal.Decimal        `json:"total_premium"`
	MarginBlocked  decimal.Decimal        `json:"margin_blocked"`
	ExpirationDate *time.Time             `json:"expiration_date,omitempty"`
	Legs           []*domain.OperationLeg `json:"legs"`
}

// ExecuteStrategy 在一个原子工作单元内执行全部腿。
// 现金与担保检查基于工作单元内的钱包快照，避免并发下的脏读。
func (e *Executor) ExecuteStrategy(ctx context.Context, walletID string, cmd ExecuteStrategyCommand, actor walletdomain.Actor) (*StrategyResult, error) {
	if cmd.IdempotencyKey == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "idempotency key is required")
	}
	if len(cmd.Legs) == 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "strategy must contain at least one leg")
	}

	if _, err := e.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}

	exists, err := e.operations.ExistsByIdempotencyKey(ctx, walletID, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.KindConflict, "idempotency key already used")
	}

	validation, err := e.builder.ValidateCustomStrategy(ctx, cmd.Legs)
	if err != nil {
		return nil, mapDomainErr(err)
	}
	if !validation.IsValid {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "invalid strategy: %s", strings.Join(validation.Errors, "; "))
	}

	// 每个 ticker 只解析一次
	resolved := map[string]*assetdomain.Asset{}
	details := map[string]*assetdomain.OptionDetail{}
	for _, leg := range cmd.Legs {
		if _, ok := resolved[leg.Ticker]; ok {
			continue
		}
		asset, err := e.assets.EnsureAssetExists(ctx, leg.Ticker)
		if err != nil {
			return nil, mapDomainErr(err)
		}
		resolved[leg.Ticker] = asset
		if asset.Type == assetdomain.AssetTypeOption {
			detail, err := e.assets.OptionDetail(ctx, asset.AssetID)
			if err != nil {
				return nil, mapDomainErr(err)
			}
			details[leg.Ticker] = detail
		}
	}

	netPremium := domain.CalculateNetPremium(cmd.Legs)
	expiration := earliestExpiration(cmd.Legs, details)
	margin, err := e.builder.ShortPutMargin(ctx, cmd.Legs)
	if err != nil {
		return nil, mapDomainErr(err)
	}

	executedAt := cmd.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}

	var result StrategyResult
	err = e.tx.InTx(ctx, func(ctx context.Context) error {
		// 钱包快照必须取自本工作单元
		wallet, err := e.wallets.Get(ctx, walletID)
		if err != nil {
			return err
		}
		debit := decimal.Zero
		if netPremium.IsNegative() {
			debit = netPremium.Neg()
		}
		if wallet.UnblockedCash().LessThan(debit) {
			return apperr.Newf(apperr.KindInsufficientFunds, "unblocked cash below net debit %s", debit)
		}
		// margin 是所有 SELL_PUT 腿的保证金上界，快速失败用；
		// 实际冻结额按各腿落仓后的新增空头敞口累计
		if wallet.UnblockedCash().Sub(debit).LessThan(margin) {
			return apperr.Newf(apperr.KindInsufficientCollateral, "unblocked cash below required margin %s", margin)
		}

		op := &domain.StructuredOperation{
			OperationID:    uuid.NewString(),
			WalletID:       walletID,
			StrategyType:   cmd.StrategyType,
			Status:         domain.OperationStatusPending,
			TotalPremium:   netPremium,
			MarginBlocked:  margin,
			ExpirationDate: expiration,
			ExecutedAt:     executedAt,
			Notes:          cmd.Notes,
			IdempotencyKey: cmd.IdempotencyKey,
			CorrelationID:  cmd.CorrelationID,
		}

		legs := make([]*domain.OperationLeg, 0, len(cmd.Legs))
		for i, leg := range cmd.Legs {
			asset := resolved[leg.Ticker]
			legs = append(legs, &domain.OperationLeg{
				LegID:       uuid.NewString(),
				OperationID: op.OperationID,
				LegOrder:    i + 1,
				LegType:     leg.Type,
				AssetID:     asset.AssetID,
				Ticker:      leg.Ticker,
				Quantity:    leg.Quantity,
				Price:       leg.Price,
				TotalValue:  legValue(leg),
				Status:      domain.OperationStatusPending,
			})
		}

		if err := e.operations.Create(ctx, op, legs); err != nil {
			return mapDomainErr(err)
		}

		blockedMargin := decimal.Zero
		for i, leg := range cmd.Legs {
			row := legs[i]
			txn := &walletdomain.Transaction{
				TransactionID:  fmt.Sprintf("TXN-%s", uuid.NewString()),
				WalletID:       walletID,
				AssetID:        row.AssetID,
				Type:           legTransactionType(leg.Type),
				Quantity:       leg.Quantity,
				Price:          leg.Price,
				TotalValue:     row.TotalValue,
				ExecutedAt:     executedAt,
				IdempotencyKey: fmt.Sprintf("%s-leg-%d", cmd.IdempotencyKey, row.LegOrder),
			}
			if err := e.ledger.Create(ctx, txn); err != nil {
				return mapDomainErr(err)
			}

			added, err := e.applyLegFill(ctx, walletID, row.AssetID, leg, details[leg.Ticker])
			if err != nil {
				return err
			}
			blockedMargin = blockedMargin.Add(added)

			row.Status = domain.OperationStatusExecuted
			row.TransactionID = txn.TransactionID
			if err := e.operations.SaveLeg(ctx, row); err != nil {
				return err
			}
		}

		// 净额一次性结算
		if netPremium.IsNegative() {
			ok, err := e.wallets.DebitCashUnblocked(ctx, walletID, netPremium.Neg())
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Newf(apperr.KindInsufficientFunds, "unblocked cash below net debit %s", netPremium.Neg())
			}
		} else if netPremium.IsPositive() {
			if err := e.wallets.CreditCash(ctx, walletID, netPremium); err != nil {
				return err
			}
		}

		// 钱包冻结额与各持仓实际附着的担保一致，保证平仓时可等额释放
		if blockedMargin.IsPositive() {
			ok, err := e.wallets.BlockCollateral(ctx, walletID, blockedMargin)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Newf(apperr.KindInsufficientCollateral, "unblocked cash below required margin %s", blockedMargin)
			}
		}

		op.MarginBlocked = blockedMargin
		if err := e.operations.MarkExecuted(ctx, op.OperationID, blockedMargin); err != nil {
			return err
		}
		op.Status = domain.OperationStatusExecuted

		result = StrategyResult{
			OperationID:    op.OperationID,
			StrategyType:   op.StrategyType,
			Status:         op.Status,
			TotalPremium:   op.TotalPremium,
			MarginBlocked:  op.MarginBlocked,
			ExpirationDate: op.ExpirationDate,
			Legs:           legs,
		}

		return e.recordExecution(ctx, walletID, op, actor)
	})
	if err != nil {
		return nil, mapDomainErr(err)
	}

	if e.metrics != nil {
		e.metrics.StrategiesTotal.WithLabelValues(string(cmd.StrategyType)).Inc()
	}
	e.logger.InfoContext(ctx, "strategy executed",
		"wallet_id", walletID, "operation_id", result.OperationID,
		"strategy_type", cmd.StrategyType, "net_premium", netPremium,
		"margin_blocked", result.MarginBlocked, "legs", len(cmd.Legs))

	return &result, nil
}

// StrategyView 列表与详情投影。NetDebitCredit 从存储的腿余额重算，
// 不信任缓存在操作行上的净额。
type StrategyView struct {
	OperationID    string                 `json:"operation_id"`
	StrategyType   domain.StrategyType    `json:"strategy_type"`
	Status         domain.OperationStatus `json:"status"`
	NetDebitCredit decimal.Decimal        `json:"net_debit_credit"`
	ExpirationDate *time.Time             `json:"expiration_date,omitempty"`
	ExecutedAt     time.Time              `json:"executed_at"`
	Notes          string                 `json:"notes,omitempty"`
	Legs           []*domain.OperationLeg `json:"legs"`
}

// StrategyPage 游标分页结果
type StrategyPage struct {
	Strategies []*StrategyView `json:"strategies"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// GetStrategy 查询单个结构化操作
func (e *Executor) GetStrategy(ctx context.Context, walletID, operationID string, actor walletdomain.Actor) (*StrategyView, error) {
	if _, err := e.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}
	op, legs, err := e.operations.GetByID(ctx, walletID, operationID)
	if err != nil {
		return nil, mapDomainErr(err)
	}
	return buildView(op, legs), nil
}

// ListStrategies 游标分页列表，页大小收敛到 [1,100]
func (e *Executor) ListStrategies(ctx context.Context, walletID, cursor string, pageSize int, actor walletdomain.Actor) (*StrategyPage, error) {
	if _, err := e.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapDomainErr(err)
	}
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	page, err := e.operations.List(ctx, walletID, cursor, pageSize)
	if err != nil {
		return nil, mapDomainErr(err)
	}

	out := &StrategyPage{NextCursor: page.NextCursor}
	for _, op := range page.Operations {
		legs, err := e.operations.LegsByOperation(ctx, op.OperationID)
		if err != nil {
			return nil, err
		}
		out.Strategies = append(out.Strategies, buildView(op, legs))
	}
	return out, nil
}

// applyLegFill 把一条腿落到持仓上，返回该腿实际附着到持仓的担保增量。
// 空头 PUT 腿仅对新增空头敞口按行权价冻结担保，减仓腿增量为零。
func (e *Executor) applyLegFill(ctx context.Context, walletID, assetID string, leg domain.Leg, detail *assetdomain.OptionDetail) (decimal.Decimal, error) {
	existing, err := e.positions.GetByWalletAndAsset(ctx, walletID, assetID)
	if err != nil {
		return decimal.Zero, err
	}

	var oldQty, oldAvg decimal.Decimal
	delta := leg.Quantity
	if !leg.Type.IsBuy() {
		delta = delta.Neg()
	}
	if existing != nil {
		oldQty, oldAvg = existing.Quantity, existing.AveragePrice
	}
	fill := optiondomain.ApplyFill(oldQty, oldAvg, delta, leg.Price)

	addedCollateral := decimal.Zero
	if leg.Type == domain.LegSellPut && detail != nil {
		shortBefore := decimal.Zero
		if oldQty.IsNegative() {
			shortBefore = oldQty.Abs()
		}
		shortAfter := decimal.Zero
		if fill.Quantity.IsNegative() {
			shortAfter = fill.Quantity.Abs()
		}
		newShort := shortAfter.Sub(shortBefore)
		if newShort.IsPositive() {
			addedCollateral = optiondomain.CollateralForShortPut(detail.StrikePrice, newShort)
		}
	}

	if fill.Closed {
		if existing == nil {
			return decimal.Zero, optiondomain.ErrInsufficientPosition
		}
		return decimal.Zero, e.positions.Delete(ctx, existing.PositionID)
	}

	if existing == nil {
		position := &optiondomain.Position{
			PositionID:   uuid.NewString(),
			WalletID:     walletID,
			AssetID:      assetID,
			Quantity:     fill.Quantity,
			AveragePrice: fill.AveragePrice,
		}
		if addedCollateral.IsPositive() {
			position.CollateralBlocked = decimal.NewNullDecimal(addedCollateral)
		}
		return addedCollateral, e.positions.Save(ctx, position)
	}

	existing.Quantity = fill.Quantity
	existing.AveragePrice = fill.AveragePrice
	if addedCollateral.IsPositive() {
		existing.CollateralBlocked = decimal.NewNullDecimal(existing.Collateral().Add(addedCollateral))
	}
	return addedCollateral, e.positions.Save(ctx, existing)
}

func buildView(op *domain.StructuredOperation, legs []*domain.OperationLeg) *StrategyView {
	net := decimal.Zero
	for _, leg := range legs {
		if leg.LegType.IsBuy() {
			net = net.Sub(leg.TotalValue)
		} else {
			net = net.Add(leg.TotalValue)
		}
	}
	return &StrategyView{
		OperationID:    op.OperationID,
		StrategyType:   op.StrategyType,
		Status:         op.Status,
		NetDebitCredit: net,
		ExpirationDate: op.ExpirationDate,
		ExecutedAt:     op.ExecutedAt,
		Notes:          op.Notes,
		Legs:           legs,
	}
}

func legValue(leg domain.Leg) decimal.Decimal {
	value := leg.Price.Mul(leg.Quantity)
	if leg.Type.IsOption() {
		value = value.Mul(decimal.NewFromInt(optiondomain.ContractSize))
	}
	return value
}

func legTransactionType(t domain.LegType) walletdomain.TransactionType {
	if t.IsBuy() {
		return walletdomain.TransactionTypeBuy
	}
	return walletdomain.TransactionTypeSell
}

func earliestExpiration(legs []domain.Leg, details map[string]*assetdomain.OptionDetail) *time.Time {
	var earliest *time.Time
	for _, leg := range legs {
		detail, ok := details[leg.Ticker]
		if !ok {
			continue
		}
		d := detail.ExpirationDate
		if earliest == nil || d.Before(*earliest) {
			earliest = &d
		}
	}
	return earliest
}

func (e *Executor) recordExecution(ctx context.Context, walletID string, op *domain.StructuredOperation, actor walletdomain.Actor) error {
	if err := e.recorder.Log(ctx, auditdomain.AuditEntry{
		TableName: "structured_operations",
		RecordID:  op.OperationID,
		Action:    "CREATE",
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Context: map[string]any{
			"wallet_id":     walletID,
			"strategy_type": op.StrategyType,
			"total_premium": op.TotalPremium.String(),
		},
	}); err != nil {
		return err
	}
	return e.recorder.Record(ctx, auditdomain.Event{
		AggregateType: "structured_operation",
		AggregateID:   op.OperationID,
		EventType:     "strategy.executed",
		Payload: map[string]any{
			"wallet_id":      walletID,
			"strategy_type":  op.StrategyType,
			"total_premium":  op.TotalPremium.String(),
			"margin_blocked": op.MarginBlocked.String(),
		},
		ActorID:       actor.ID,
		CorrelationID: op.CorrelationID,
	})
}
