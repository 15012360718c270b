package application

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
)

type stubAccess struct {
	wallet *domain.Wallet
}

func (s *stubAccess) VerifyWalletAccess(_ context.Context, walletID string, actor domain.Actor) (*domain.Wallet, error) {
	if s.wallet == nil || s.wallet.WalletID != walletID {
		return nil, domain.ErrWalletNotFound
	}
	if actor.Role != domain.RoleAdmin && s.wallet.ClientID != actor.ID {
		return nil, domain.ErrAccessDenied
	}
	return s.wallet, nil
}

type stubLedger struct {
	txns []*domain.Transaction
}

func (l *stubLedger) Create(_ context.Context, txn *domain.Transaction) error {
	l.txns = append(l.txns, txn)
	return nil
}

func (l *stubLedger) ExistsByIdempotencyKey(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func (l *stubLedger) History(_ context.Context, walletID string, limit, offset int) ([]*domain.Transaction, int64, error) {
	return l.txns, int64(len(l.txns)), nil
}

func mustDec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newService(wallet *domain.Wallet, ledger *stubLedger) *WalletService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWalletService(&stubAccess{wallet: wallet}, nil, ledger, logger)
}

func TestGetWalletProjection(t *testing.T) {
	wallet := &domain.Wallet{
		WalletID:          "w1",
		ClientID:          "client-1",
		CashBalance:       mustDec("50000"),
		BlockedCollateral: mustDec("24000"),
	}
	service := newService(wallet, &stubLedger{})

	view, err := service.GetWallet(context.Background(), "w1", domain.Actor{ID: "client-1", Role: domain.RoleClient})
	require.NoError(t, err)
	assert.True(t, mustDec("50000").Equal(view.CashBalance))
	assert.True(t, mustDec("24000").Equal(view.BlockedCollateral))
	// 可用现金 = 现金 − 冻结担保
	assert.True(t, mustDec("26000").Equal(view.AvailableCash))
}

func TestGetWalletAccessDenied(t *testing.T) {
	wallet := &domain.Wallet{WalletID: "w1", ClientID: "client-1"}
	service := newService(wallet, &stubLedger{})

	_, err := service.GetWallet(context.Background(), "w1", domain.Actor{ID: "stranger", Role: domain.RoleClient})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))
}

func TestTransactionHistoryClampsLimit(t *testing.T) {
	wallet := &domain.Wallet{WalletID: "w1", ClientID: "client-1"}
	ledger := &stubLedger{txns: []*domain.Transaction{{TransactionID: "t1", WalletID: "w1"}}}
	service := newService(wallet, ledger)

	page, err := service.TransactionHistory(context.Background(), "w1", -5, -1, domain.Actor{ID: "client-1", Role: domain.RoleClient})
	require.NoError(t, err)
	assert.Len(t, page.Transactions, 1)
	assert.Equal(t, int64(1), page.Total)
}
