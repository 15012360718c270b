package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
)

type tradeFixture struct {
	service   *TradeService
	wallets   *fakeWalletRepo
	ledger    *fakeLedger
	positions *fakePositionRepo
	resolver  *fakeResolver
	recorder  *fakeRecorder
	actor     walletdomain.Actor
}

func newTradeFixture(t *testing.T) *tradeFixture {
	t.Helper()
	wallets := newFakeWalletRepo()
	ledger := newFakeLedger()
	positions := newFakePositionRepo()
	resolver := newFakeResolver()
	recorder := &fakeRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := NewTradeService(
		fakeTxManager{},
		&fakeAccessControl{wallets: wallets},
		wallets, ledger, positions, resolver, recorder, nil, logger,
	)
	return &tradeFixture{
		service:   service,
		wallets:   wallets,
		ledger:    ledger,
		positions: positions,
		resolver:  resolver,
		recorder:  recorder,
		actor:     walletdomain.Actor{ID: "client-1", Role: walletdomain.RoleClient},
	}
}

func (f *tradeFixture) setupCallOption() {
	stock := f.resolver.addStock("PETR4")
	f.resolver.addOption("PETR4C250", assetdomain.OptionTypeCall, assetdomain.ExerciseStyleAmerican, "25",
		time.Now().AddDate(0, 1, 0), stock)
}

func (f *tradeFixture) setupPutOption() {
	stock := f.resolver.addStock("PETR4")
	f.resolver.addOption("PETR4P80", assetdomain.OptionTypePut, assetdomain.ExerciseStyleAmerican, "80",
		time.Now().AddDate(0, 1, 0), stock)
}

func TestBuyOption(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "100000")

	result, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker:         "PETR4C250",
		Quantity:       mustDec("10"),
		Premium:        mustDec("1.5"),
		ExecutedAt:     time.Now(),
		IdempotencyKey: "buy-1",
	}, f.actor)
	require.NoError(t, err)

	// 10 × 1.5 × 100 = 1500
	w, _ := f.wallets.Get(context.Background(), "w1")
	assert.True(t, mustDec("98500").Equal(w.CashBalance), "got %s", w.CashBalance)
	assert.True(t, mustDec("10").Equal(result.Quantity))
	assert.True(t, mustDec("1.5").Equal(result.AveragePrice))
	assert.Len(t, f.ledger.txns, 1)
	assert.Len(t, f.recorder.entries, 1)
	assert.Len(t, f.recorder.events, 1)
}

func TestBuyOptionInsufficientFunds(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "1000")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker:         "PETR4C250",
		Quantity:       mustDec("10"),
		Premium:        mustDec("1.5"),
		IdempotencyKey: "buy-1",
	}, f.actor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))

	// 钱包与账本均无变化
	w, _ := f.wallets.Get(context.Background(), "w1")
	assert.True(t, mustDec("1000").Equal(w.CashBalance))
	assert.Empty(t, f.ledger.txns)
}

func TestBuyOptionDuplicateIdempotencyKey(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "100000")

	cmd := BuyOptionCommand{
		Ticker:         "PETR4C250",
		Quantity:       mustDec("1"),
		Premium:        mustDec("1.5"),
		IdempotencyKey: "dup-key",
	}
	_, err := f.service.BuyOption(context.Background(), "w1", cmd, f.actor)
	require.NoError(t, err)

	_, err = f.service.BuyOption(context.Background(), "w1", cmd, f.actor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Len(t, f.ledger.txns, 1)
}

func TestBuyOptionAccessDenied(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "100000")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker:         "PETR4C250",
		Quantity:       mustDec("1"),
		Premium:        mustDec("1.5"),
		IdempotencyKey: "k",
	}, walletdomain.Actor{ID: "stranger", Role: walletdomain.RoleClient})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))
}

func TestBuyOptionRejectsStockTicker(t *testing.T) {
	f := newTradeFixture(t)
	f.resolver.addStock("PETR4")
	f.wallets.add("w1", "client-1", "100000")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker:         "PETR4",
		Quantity:       mustDec("1"),
		Premium:        mustDec("1"),
		IdempotencyKey: "k",
	}, f.actor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
}

func TestSellPutBlocksCollateral(t *testing.T) {
	f := newTradeFixture(t)
	f.setupPutOption()
	f.wallets.add("w1", "client-1", "100000")

	result, err := f.service.SellOption(context.Background(), "w1", SellOptionCommand{
		Ticker:         "PETR4P80",
		Quantity:       mustDec("3"),
		Premium:        mustDec("2"),
		IdempotencyKey: "sell-1",
	}, f.actor)
	require.NoError(t, err)

	// 权利金入账 3 × 2 × 100 = 600，保证金 80 × 100 × 3 = 24000
	w, _ := f.wallets.Get(context.Background(), "w1")
	assert.True(t, mustDec("100600").Equal(w.CashBalance), "got %s", w.CashBalance)
	assert.True(t, mustDec("24000").Equal(w.BlockedCollateral), "got %s", w.BlockedCollateral)
	assert.True(t, mustDec("-3").Equal(result.Quantity))
	assert.True(t, mustDec("24000").Equal(result.CollateralBlocked))

	p, _ := f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4P80")
	require.NotNil(t, p)
	assert.True(t, mustDec("24000").Equal(p.Collateral()))
}

func TestSellPutInsufficientCollateral(t *testing.T) {
	f := newTradeFixture(t)
	f.setupPutOption()
	f.wallets.add("w1", "client-1", "5000")

	_, err := f.service.SellOption(context.Background(), "w1", SellOptionCommand{
		Ticker:         "PETR4P80",
		Quantity:       mustDec("3"),
		Premium:        mustDec("2"),
		IdempotencyKey: "sell-1",
	}, f.actor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientCollateral, apperr.KindOf(err))
}

func TestSellCoveredCallRequiresUnderlying(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "100000")

	cmd := SellOptionCommand{
		Ticker:         "PETR4C250",
		Quantity:       mustDec("10"),
		Premium:        mustDec("1.5"),
		Covered:        true,
		IdempotencyKey: "cc-1",
	}
	_, err := f.service.SellOption(context.Background(), "w1", cmd, f.actor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))

	// 持有足额标的后同一笔卖出成功
	require.NoError(t, f.positions.Save(context.Background(), newStockPosition("w1", "asset-PETR4", "1000", "25")))
	cmd.IdempotencyKey = "cc-2"
	result, err := f.service.SellOption(context.Background(), "w1", cmd, f.actor)
	require.NoError(t, err)
	assert.True(t, mustDec("-10").Equal(result.Quantity))

	// 备兑 CALL 不冻结保证金
	w, _ := f.wallets.Get(context.Background(), "w1")
	assert.True(t, w.BlockedCollateral.IsZero())
}

func TestCloseLongPositionCreditsCash(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "10000")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker: "PETR4C250", Quantity: mustDec("10"), Premium: mustDec("1.5"), IdempotencyKey: "open",
	}, f.actor)
	require.NoError(t, err)
	p, _ := f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4C250")
	require.NotNil(t, p)

	result, err := f.service.CloseOptionPosition(context.Background(), "w1", p.PositionID, CloseOptionCommand{
		Premium:        mustDec("2"),
		IdempotencyKey: "close",
	}, f.actor)
	require.NoError(t, err)
	assert.True(t, result.PositionClosed)

	// 8500 开仓后 + 平仓 10 × 2 × 100
	w, _ := f.wallets.Get(context.Background(), "w1")
	assert.True(t, mustDec("10500").Equal(w.CashBalance), "got %s", w.CashBalance)

	gone, _ := f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4C250")
	assert.Nil(t, gone)
}

func TestCloseShortPutPartialReleasesCollateral(t *testing.T) {
	f := newTradeFixture(t)
	f.setupPutOption()
	f.wallets.add("w1", "client-1", "100000")

	_, err := f.service.SellOption(context.Background(), "w1", SellOptionCommand{
		Ticker: "PETR4P80", Quantity: mustDec("3"), Premium: mustDec("2"), IdempotencyKey: "open",
	}, f.actor)
	require.NoError(t, err)
	p, _ := f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4P80")
	require.NotNil(t, p)

	half := mustDec("1.5")
	result, err := f.service.CloseOptionPosition(context.Background(), "w1", p.PositionID, CloseOptionCommand{
		Quantity:       &half,
		Premium:        mustDec("2"),
		IdempotencyKey: "close-half",
	}, f.actor)
	require.NoError(t, err)

	// 24000 × 1.5/3 = 12000 释放
	assert.True(t, mustDec("12000").Equal(result.CollateralReleased), "got %s", result.CollateralReleased)
	assert.False(t, result.PositionClosed)

	w, _ := f.wallets.Get(context.Background(), "w1")
	assert.True(t, mustDec("12000").Equal(w.BlockedCollateral))

	p, _ = f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4P80")
	require.NotNil(t, p)
	assert.True(t, mustDec("-1.5").Equal(p.Quantity))
	assert.True(t, mustDec("12000").Equal(p.Collateral()))
}

func TestCloseExceedingQuantityRejected(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "10000")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker: "PETR4C250", Quantity: mustDec("2"), Premium: mustDec("1"), IdempotencyKey: "open",
	}, f.actor)
	require.NoError(t, err)
	p, _ := f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4C250")

	five := mustDec("5")
	_, err = f.service.CloseOptionPosition(context.Background(), "w1", p.PositionID, CloseOptionCommand{
		Quantity:       &five,
		Premium:        mustDec("1"),
		IdempotencyKey: "close",
	}, f.actor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
}

func TestListPositions(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "10000")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker: "PETR4C250", Quantity: mustDec("2"), Premium: mustDec("1"), IdempotencyKey: "open",
	}, f.actor)
	require.NoError(t, err)

	views, err := f.service.ListPositions(context.Background(), "w1", f.actor)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "PETR4C250", views[0].Ticker)
	assert.True(t, mustDec("2").Equal(views[0].Quantity))
}

func TestReopenPositionAfterFullClose(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "10000")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker: "PETR4C250", Quantity: mustDec("5"), Premium: mustDec("1"), IdempotencyKey: "open-1",
	}, f.actor)
	require.NoError(t, err)
	p, _ := f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4C250")
	require.NotNil(t, p)

	result, err := f.service.CloseOptionPosition(context.Background(), "w1", p.PositionID, CloseOptionCommand{
		Premium:        mustDec("1"),
		IdempotencyKey: "close-1",
	}, f.actor)
	require.NoError(t, err)
	require.True(t, result.PositionClosed)

	// 完全平仓后同一 (wallet, asset) 必须可以重新开仓
	reopened, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker: "PETR4C250", Quantity: mustDec("3"), Premium: mustDec("2"), IdempotencyKey: "open-2",
	}, f.actor)
	require.NoError(t, err)
	assert.NotEqual(t, p.PositionID, reopened.PositionID)

	fresh, _ := f.positions.GetByWalletAndAsset(context.Background(), "w1", "asset-PETR4C250")
	require.NotNil(t, fresh)
	assert.True(t, mustDec("3").Equal(fresh.Quantity))
	assert.True(t, mustDec("2").Equal(fresh.AveragePrice))
}

func TestBuyOptionIdempotencyRaceAtCommit(t *testing.T) {
	f := newTradeFixture(t)
	f.setupCallOption()
	f.wallets.add("w1", "client-1", "10000")

	// 幂等键在预检之后才被并发请求占用，重复只在提交时以唯一索引冲突暴露
	f.ledger.raceOnKey("w1", "raced")

	_, err := f.service.BuyOption(context.Background(), "w1", BuyOptionCommand{
		Ticker: "PETR4C250", Quantity: mustDec("10"), Premium: mustDec("1.5"), IdempotencyKey: "raced",
	}, f.actor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Empty(t, f.ledger.txns)
}
