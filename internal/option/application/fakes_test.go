package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	auditdomain "github.com/Gsaudx/Advision-sub000/internal/audit/domain"
	"github.com/Gsaudx/Advision-sub000/internal/option/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
)

// 内存实现的协作方，覆盖应用服务的全部依赖。
// 事务语义不模拟回滚，测试只断言成功路径的最终状态与失败路径的错误码。

type fakeTxManager struct{}

func (fakeTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeWalletRepo struct {
	wallets map[string]*walletdomain.Wallet
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{wallets: map[string]*walletdomain.Wallet{}}
}

func (r *fakeWalletRepo) add(walletID, clientID string, cash string) *walletdomain.Wallet {
	w := &walletdomain.Wallet{
		WalletID:    walletID,
		ClientID:    clientID,
		CashBalance: mustDec(cash),
	}
	r.wallets[walletID] = w
	return w
}

func (r *fakeWalletRepo) Get(_ context.Context, walletID string) (*walletdomain.Wallet, error) {
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, walletdomain.ErrWalletNotFound
	}
	return w, nil
}

func (r *fakeWalletRepo) DebitCash(_ context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	w, ok := r.wallets[walletID]
	if !ok {
		return false, walletdomain.ErrWalletNotFound
	}
	if w.CashBalance.LessThan(amount) {
		return false, nil
	}
	w.CashBalance = w.CashBalance.Sub(amount)
	return true, nil
}

func (r *fakeWalletRepo) DebitCashUnblocked(_ context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	w, ok := r.wallets[walletID]
	if !ok {
		return false, walletdomain.ErrWalletNotFound
	}
	if w.UnblockedCash().LessThan(amount) {
		return false, nil
	}
	w.CashBalance = w.CashBalance.Sub(amount)
	return true, nil
}

func (r *fakeWalletRepo) CreditCash(_ context.Context, walletID string, amount decimal.Decimal) error {
	w, ok := r.wallets[walletID]
	if !ok {
		return walletdomain.ErrWalletNotFound
	}
	w.CashBalance = w.CashBalance.Add(amount)
	return nil
}

func (r *fakeWalletRepo) BlockCollateral(_ context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	w, ok := r.wallets[walletID]
	if !ok {
		return false, walletdomain.ErrWalletNotFound
	}
	if w.UnblockedCash().LessThan(amount) {
		return false, nil
	}
	w.BlockedCollateral = w.BlockedCollateral.Add(amount)
	return true, nil
}

func (r *fakeWalletRepo) ReleaseCollateral(_ context.Context, walletID string, amount decimal.Decimal) error {
	w, ok := r.wallets[walletID]
	if !ok {
		return walletdomain.ErrWalletNotFound
	}
	w.BlockedCollateral = w.BlockedCollateral.Sub(amount)
	if w.BlockedCollateral.IsNegative() {
		w.BlockedCollateral = decimal.Zero
	}
	return nil
}

type fakeAccessControl struct {
	wallets *fakeWalletRepo
}

func (a *fakeAccessControl) VerifyWalletAccess(ctx context.Context, walletID string, actor walletdomain.Actor) (*walletdomain.Wallet, error) {
	w, err := a.wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if actor.Role == walletdomain.RoleAdmin || w.ClientID == actor.ID {
		return w, nil
	}
	return nil, walletdomain.ErrAccessDenied
}

type fakeLedger struct {
	txns []*walletdomain.Transaction
	keys map[string]struct{}
	// racedKeys 模拟预检之后才被并发占用的幂等键：
	// ExistsByIdempotencyKey 查不到，Create 时撞唯一索引
	racedKeys map[string]struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{keys: map[string]struct{}{}, racedKeys: map[string]struct{}{}}
}

func ledgerKey(walletID, key string) string {
	return walletID + "/" + key
}

func (l *fakeLedger) raceOnKey(walletID, key string) {
	l.racedKeys[ledgerKey(walletID, key)] = struct{}{}
}

func (l *fakeLedger) Create(_ context.Context, txn *walletdomain.Transaction) error {
	k := ledgerKey(txn.WalletID, txn.IdempotencyKey)
	if _, dup := l.keys[k]; dup {
		return gorm.ErrDuplicatedKey
	}
	if _, raced := l.racedKeys[k]; raced {
		return gorm.ErrDuplicatedKey
	}
	l.keys[k] = struct{}{}
	l.txns = append(l.txns, txn)
	return nil
}

func (l *fakeLedger) ExistsByIdempotencyKey(_ context.Context, walletID, key string) (bool, error) {
	_, ok := l.keys[ledgerKey(walletID, key)]
	return ok, nil
}

func (l *fakeLedger) History(_ context.Context, walletID string, limit, offset int) ([]*walletdomain.Transaction, int64, error) {
	var out []*walletdomain.Transaction
	for _, t := range l.txns {
		if t.WalletID == walletID {
			out = append(out, t)
		}
	}
	return out, int64(len(out)), nil
}

type fakePositionRepo struct {
	positions map[string]*domain.Position
}

func newFakePositionRepo() *fakePositionRepo {
	return &fakePositionRepo{positions: map[string]*domain.Position{}}
}

func (r *fakePositionRepo) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	for _, p := range r.positions {
		if p.PositionID == positionID {
			return p, nil
		}
	}
	return nil, domain.ErrPositionNotFound
}

func posKey(walletID, assetID string) string {
	return walletID + "/" + assetID
}

func (r *fakePositionRepo) GetByWalletAndAsset(_ context.Context, walletID, assetID string) (*domain.Position, error) {
	p, ok := r.positions[posKey(walletID, assetID)]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (r *fakePositionRepo) Save(_ context.Context, p *domain.Position) error {
	r.positions[posKey(p.WalletID, p.AssetID)] = p
	return nil
}

func (r *fakePositionRepo) Delete(_ context.Context, positionID string) error {
	for k, p := range r.positions {
		if p.PositionID == positionID {
			delete(r.positions, k)
			return nil
		}
	}
	return domain.ErrPositionNotFound
}

func (r *fakePositionRepo) ListByWallet(_ context.Context, walletID string) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range r.positions {
		if p.WalletID == walletID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeResolver struct {
	assets  map[string]*assetdomain.Asset
	details map[string]*assetdomain.OptionDetail
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		assets:  map[string]*assetdomain.Asset{},
		details: map[string]*assetdomain.OptionDetail{},
	}
}

func (f *fakeResolver) addStock(ticker string) *assetdomain.Asset {
	a := &assetdomain.Asset{AssetID: "asset-" + ticker, Ticker: ticker, Type: assetdomain.AssetTypeStock}
	f.assets[ticker] = a
	return a
}

func (f *fakeResolver) addOption(ticker string, optionType assetdomain.OptionType, style assetdomain.ExerciseStyle, strike string, expiration time.Time, underlying *assetdomain.Asset) *assetdomain.Asset {
	id := "asset-" + ticker
	a := &assetdomain.Asset{AssetID: id, Ticker: ticker, Type: assetdomain.AssetTypeOption}
	f.assets[ticker] = a
	f.details[id] = &assetdomain.OptionDetail{
		AssetID:           id,
		OptionType:        optionType,
		ExerciseStyle:     style,
		StrikePrice:       mustDec(strike),
		ExpirationDate:    expiration,
		UnderlyingAssetID: underlying.AssetID,
	}
	return a
}

func (f *fakeResolver) EnsureAssetExists(_ context.Context, ticker string) (*assetdomain.Asset, error) {
	a, ok := f.assets[ticker]
	if !ok {
		return nil, assetdomain.ErrAssetNotFound
	}
	return a, nil
}

func (f *fakeResolver) GetByID(_ context.Context, assetID string) (*assetdomain.Asset, error) {
	for _, a := range f.assets {
		if a.AssetID == assetID {
			return a, nil
		}
	}
	return nil, assetdomain.ErrAssetNotFound
}

func (f *fakeResolver) OptionDetail(_ context.Context, assetID string) (*assetdomain.OptionDetail, error) {
	det, ok := f.details[assetID]
	if !ok {
		return nil, assetdomain.ErrNotAnOption
	}
	return det, nil
}

type fakeMarketData struct {
	prices map[string]decimal.Decimal
}

func (m *fakeMarketData) GetPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	p, ok := m.prices[ticker]
	if !ok {
		return decimal.Zero, assetdomain.ErrPriceUnavailable
	}
	return p, nil
}

func (m *fakeMarketData) GetBatchPrices(_ context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, t := range tickers {
		if p, ok := m.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

type fakeLifecycleRepo struct {
	records []*domain.OptionLifecycle
}

func (r *fakeLifecycleRepo) Create(_ context.Context, record *domain.OptionLifecycle) error {
	r.records = append(r.records, record)
	return nil
}

func (r *fakeLifecycleRepo) ListByPosition(_ context.Context, positionID string) ([]*domain.OptionLifecycle, error) {
	var out []*domain.OptionLifecycle
	for _, rec := range r.records {
		if rec.PositionID == positionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeLifecycleRepo) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]*domain.OptionLifecycle, int64, error) {
	var out []*domain.OptionLifecycle
	for _, rec := range r.records {
		if rec.WalletID == walletID {
			out = append(out, rec)
		}
	}
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type fakeRecorder struct {
	entries []auditdomain.AuditEntry
	events  []auditdomain.Event
}

func (r *fakeRecorder) Log(_ context.Context, entry auditdomain.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeRecorder) Record(_ context.Context, event auditdomain.Event) error {
	r.events = append(r.events, event)
	return nil
}

func newStockPosition(walletID, assetID, qty, avg string) *domain.Position {
	return &domain.Position{
		PositionID:   "pos-" + walletID + "-" + assetID,
		WalletID:     walletID,
		AssetID:      assetID,
		Quantity:     mustDec(qty),
		AveragePrice: mustDec(avg),
	}
}

func mustDec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}
