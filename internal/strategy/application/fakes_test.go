package application

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	auditdomain "github.com/Gsaudx/Advision-sub000/internal/audit/domain"
	optiondomain "github.com/Gsaudx/Advision-sub000/internal/option/domain"
	"github.com/Gsaudx/Advision-sub000/internal/strategy/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
)

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

func (r *fakeWalletRepo) add(walletID, clientID, cash string) *walletdomain.Wallet {
	w := &walletdomain.Wallet{WalletID: walletID, ClientID: clientID, CashBalance: mustDec(cash)}
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
	w := r.wallets[walletID]
	if w.CashBalance.LessThan(amount) {
		return false, nil
	}
	w.CashBalance = w.CashBalance.Sub(amount)
	return true, nil
}

func (r *fakeWalletRepo) DebitCashUnblocked(_ context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	w := r.wallets[walletID]
	if w.UnblockedCash().LessThan(amount) {
		return false, nil
	}
	w.CashBalance = w.CashBalance.Sub(amount)
	return true, nil
}

func (r *fakeWalletRepo) CreditCash(_ context.Context, walletID string, amount decimal.Decimal) error {
	w := r.wallets[walletID]
	w.CashBalance = w.CashBalance.Add(amount)
	return nil
}

func (r *fakeWalletRepo) BlockCollateral(_ context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	w := r.wallets[walletID]
	if w.UnblockedCash().LessThan(amount) {
		return false, nil
	}
	w.BlockedCollateral = w.BlockedCollateral.Add(amount)
	return true, nil
}

func (r *fakeWalletRepo) ReleaseCollateral(_ context.Context, walletID string, amount decimal.Decimal) error {
	w := r.wallets[walletID]
	w.BlockedCollateral = w.BlockedCollateral.Sub(amount)
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
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{keys: map[string]struct{}{}}
}

func (l *fakeLedger) Create(_ context.Context, txn *walletdomain.Transaction) error {
	k := txn.WalletID + "/" + txn.IdempotencyKey
	if _, dup := l.keys[k]; dup {
		return gorm.ErrDuplicatedKey
	}
	l.keys[k] = struct{}{}
	l.txns = append(l.txns, txn)
	return nil
}

func (l *fakeLedger) ExistsByIdempotencyKey(_ context.Context, walletID, key string) (bool, error) {
	_, ok := l.keys[walletID+"/"+key]
	return ok, nil
}

func (l *fakeLedger) History(_ context.Context, walletID string, limit, offset int) ([]*walletdomain.Transaction, int64, error) {
	return nil, 0, nil
}

type fakePositionRepo struct {
	positions map[string]*optiondomain.Position
}

func newFakePositionRepo() *fakePositionRepo {
	return &fakePositionRepo{positions: map[string]*optiondomain.Position{}}
}

func (r *fakePositionRepo) GetByID(_ context.Context, positionID string) (*optiondomain.Position, error) {
	for _, p := range r.positions {
		if p.PositionID == positionID {
			return p, nil
		}
	}
	return nil, optiondomain.ErrPositionNotFound
}

func (r *fakePositionRepo) GetByWalletAndAsset(_ context.Context, walletID, assetID string) (*optiondomain.Position, error) {
	p, ok := r.positions[walletID+"/"+assetID]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (r *fakePositionRepo) Save(_ context.Context, p *optiondomain.Position) error {
	r.positions[p.WalletID+"/"+p.AssetID] = p
	return nil
}

func (r *fakePositionRepo) Delete(_ context.Context, positionID string) error {
	for k, p := range r.positions {
		if p.PositionID == positionID {
			delete(r.positions, k)
			return nil
		}
	}
	return optiondomain.ErrPositionNotFound
}

func (r *fakePositionRepo) ListByWallet(_ context.Context, walletID string) ([]*optiondomain.Position, error) {
	var out []*optiondomain.Position
	for _, p := range r.positions {
		if p.WalletID == walletID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeOperationRepo struct {
	ops  []*domain.StructuredOperation
	legs map[string][]*domain.OperationLeg
	keys map[string]struct{}
	// racedKeys 模拟预检之后才被并发占用的幂等键：
	// ExistsByIdempotencyKey 查不到，Create 时撞唯一索引
	racedKeys map[string]struct{}
	seq       uint
}

func newFakeOperationRepo() *fakeOperationRepo {
	return &fakeOperationRepo{
		legs:      map[string][]*domain.OperationLeg{},
		keys:      map[string]struct{}{},
		racedKeys: map[string]struct{}{},
	}
}

func (r *fakeOperationRepo) raceOnKey(walletID, key string) {
	r.racedKeys[walletID+"/"+key] = struct{}{}
}

func (r *fakeOperationRepo) Create(_ context.Context, op *domain.StructuredOperation, legs []*domain.OperationLeg) error {
	k := op.WalletID + "/" + op.IdempotencyKey
	if _, dup := r.keys[k]; dup {
		return gorm.ErrDuplicatedKey
	}
	if _, raced := r.racedKeys[k]; raced {
		return gorm.ErrDuplicatedKey
	}
	r.keys[k] = struct{}{}
	r.seq++
	op.ID = r.seq
	r.ops = append(r.ops, op)
	r.legs[op.OperationID] = legs
	return nil
}

func (r *fakeOperationRepo) SaveLeg(_ context.Context, leg *domain.OperationLeg) error {
	return nil
}

func (r *fakeOperationRepo) MarkExecuted(_ context.Context, operationID string, marginBlocked decimal.Decimal) error {
	for _, op := range r.ops {
		if op.OperationID == operationID {
			op.Status = domain.OperationStatusExecuted
			op.MarginBlocked = marginBlocked
			return nil
		}
	}
	return domain.ErrOperationNotFound
}

func (r *fakeOperationRepo) GetByID(_ context.Context, walletID, operationID string) (*domain.StructuredOperation, []*domain.OperationLeg, error) {
	for _, op := range r.ops {
		if op.WalletID == walletID && op.OperationID == operationID {
			return op, r.legs[operationID], nil
		}
	}
	return nil, nil, domain.ErrOperationNotFound
}

func (r *fakeOperationRepo) LegsByOperation(_ context.Context, operationID string) ([]*domain.OperationLeg, error) {
	return r.legs[operationID], nil
}

func (r *fakeOperationRepo) List(_ context.Context, walletID, cursor string, limit int) (*domain.Page, error) {
	var after uint = ^uint(0)
	if cursor != "" {
		v, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		after = uint(v)
	}
	var matched []*domain.StructuredOperation
	for i := len(r.ops) - 1; i >= 0; i-- {
		op := r.ops[i]
		if op.WalletID == walletID && op.ID < after {
			matched = append(matched, op)
		}
	}
	page := &domain.Page{}
	if len(matched) > limit {
		matched = matched[:limit]
		page.NextCursor = strconv.FormatUint(uint64(matched[limit-1].ID), 10)
	}
	page.Operations = matched
	return page, nil
}

func (r *fakeOperationRepo) ExistsByIdempotencyKey(_ context.Context, walletID, key string) (bool, error) {
	_, ok := r.keys[walletID+"/"+key]
	return ok, nil
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

func (f *fakeResolver) addOption(ticker string, optionType assetdomain.OptionType, strike string, expiration time.Time) *assetdomain.Asset {
	id := "asset-" + ticker
	a := &assetdomain.Asset{AssetID: id, Ticker: ticker, Type: assetdomain.AssetTypeOption}
	f.assets[ticker] = a
	f.details[id] = &assetdomain.OptionDetail{
		AssetID:        id,
		OptionType:     optionType,
		ExerciseStyle:  assetdomain.ExerciseStyleAmerican,
		StrikePrice:    mustDec(strike),
		ExpirationDate: expiration,
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

func mustDec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}
