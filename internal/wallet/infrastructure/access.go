package infrastructure

import (
	"context"

	"github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
)

// OwnerAccessControl 基于钱包归属关系的访问校验。
// 完整的身份/权限体系在平台侧，这里只覆盖本服务需要的归属判断。
type OwnerAccessControl struct {
	wallets domain.Repository
}

func NewOwnerAccessControl(wallets domain.Repository) *OwnerAccessControl {
	return &OwnerAccessControl{wallets: wallets}
}

func (a *OwnerAccessControl) VerifyWalletAccess(ctx context.Context, walletID string, actor domain.Actor) (*domain.Wallet, error) {
	w, err := a.wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}

	switch {
	case actor.Role == domain.RoleAdmin:
		return w, nil
	case actor.Role == domain.RoleAdvisor && w.AdvisorID == actor.ID:
		return w, nil
	case actor.Role == domain.RoleClient && w.ClientID == actor.ID:
		return w, nil
	}
	return nil, domain.ErrAccessDenied
}
