package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrAccessDenied           = errors.New("wallet not accessible by actor")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientCollateral = errors.New("insufficient unblocked cash for collateral")
)

// Actor 发起操作的用户（客户或顾问），由外部身份系统解析
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

const (
	RoleClient  = "CLIENT"
	RoleAdvisor = "ADVISOR"
	RoleAdmin   = "ADMIN"
)

// Wallet 经纪钱包
// CashBalance 永不为负，由条件更新在写入时保证；
// BlockedCollateral 只随具体的空头期权义务同步变动。
type Wallet struct {
	gorm.Model
	WalletID          string          `gorm:"column:wallet_id;type:varchar(36);uniqueIndex;not null" json:"wallet_id"`
	ClientID          string          `gorm:"column:client_id;type:varchar(36);index;not null" json:"client_id"`
	AdvisorID         string          `gorm:"column:advisor_id;type:varchar(36);index" json:"advisor_id"`
	CashBalance       decimal.Decimal `gorm:"column:cash_balance;type:decimal(20,8);default:0;not null" json:"cash_balance"`
	BlockedCollateral decimal.Decimal `gorm:"column:blocked_collateral;type:decimal(20,8);default:0;not null" json:"blocked_collateral"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// UnblockedCash 可自由支配的现金
func (w *Wallet) UnblockedCash() decimal.Decimal {
	return w.CashBalance.Sub(w.BlockedCollateral)
}

// AccessControl 钱包访问校验，身份与权限模型由外部协作方实现
type AccessControl interface {
	// VerifyWalletAccess 校验 actor 对钱包的访问权，拒绝时返回 ErrAccessDenied
	VerifyWalletAccess(ctx context.Context, walletID string, actor Actor) (*Wallet, error)
}

// Repository 钱包仓储。
// 现金与担保的扣减一律走条件更新（affected-rows 检查），
// 而不是读-比较-写，以便在并发交易下保持正确。
type Repository interface {
	Get(ctx context.Context, walletID string) (*Wallet, error)
	// DebitCash 条件扣减现金：cash_balance >= amount 时才生效，返回是否扣减成功
	DebitCash(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error)
	// DebitCashUnblocked 条件扣减现金：cash_balance - blocked_collateral >= amount 时才生效
	DebitCashUnblocked(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error)
	CreditCash(ctx context.Context, walletID string, amount decimal.Decimal) error
	// BlockCollateral 条件冻结担保：未冻结现金足够时才生效，返回是否成功
	BlockCollateral(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error)
	// ReleaseCollateral 释放担保，blocked_collateral 不会降到零以下
	ReleaseCollateral(ctx context.Context, walletID string, amount decimal.Decimal) error
}
