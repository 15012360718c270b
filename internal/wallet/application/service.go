package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
)

// WalletService 钱包只读投影与流水查询
type WalletService struct {
	access  domain.AccessControl
	wallets domain.Repository
	ledger  domain.TransactionRepository
	logger  *slog.Logger
}

func NewWalletService(access domain.AccessControl, wallets domain.Repository, ledger domain.TransactionRepository, logger *slog.Logger) *WalletService {
	return &WalletService{access: access, wallets: wallets, ledger: ledger, logger: logger}
}

// WalletView 钱包投影，AvailableCash 为现金减去冻结担保
type WalletView struct {
	WalletID          string          `json:"wallet_id"`
	ClientID          string          `json:"client_id"`
	AdvisorID         string          `json:"advisor_id"`
	CashBalance       decimal.Decimal `json:"cash_balance"`
	BlockedCollateral decimal.Decimal `json:"blocked_collateral"`
	AvailableCash     decimal.Decimal `json:"available_cash"`
}

// HistoryPage 流水分页
type HistoryPage struct {
	Transactions []*domain.Transaction `json:"transactions"`
	Total        int64                 `json:"total"`
}

func (s *WalletService) GetWallet(ctx context.Context, walletID string, actor domain.Actor) (*WalletView, error) {
	w, err := s.access.VerifyWalletAccess(ctx, walletID, actor)
	if err != nil {
		return nil, mapErr(err)
	}
	return &WalletView{
		WalletID:          w.WalletID,
		ClientID:          w.ClientID,
		AdvisorID:         w.AdvisorID,
		CashBalance:       w.CashBalance,
		BlockedCollateral: w.BlockedCollateral,
		AvailableCash:     w.UnblockedCash(),
	}, nil
}

func (s *WalletService) TransactionHistory(ctx context.Context, walletID string, limit, offset int, actor domain.Actor) (*HistoryPage, error) {
	if _, err := s.access.VerifyWalletAccess(ctx, walletID, actor); err != nil {
		return nil, mapErr(err)
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	txns, total, err := s.ledger.History(ctx, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Transactions: txns, Total: total}, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAccessDenied):
		return apperr.Wrap(apperr.KindAccessDenied, "wallet access denied", err)
	case errors.Is(err, domain.ErrWalletNotFound):
		return apperr.Wrap(apperr.KindNotFound, "wallet not found", err)
	default:
		return err
	}
}
