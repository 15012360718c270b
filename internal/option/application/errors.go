package application

import (
	"errors"

	"gorm.io/gorm"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	"github.com/Gsaudx/Advision-sub000/internal/option/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
)

// mapDomainErr 把领域哨兵错误映射为带稳定错误码的业务错误。
// 已是 *apperr.Error 的错误原样返回。
func mapDomainErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	switch {
	case errors.Is(err, walletdomain.ErrAccessDenied):
		return apperr.Wrap(apperr.KindAccessDenied, "wallet not accessible", err)
	case errors.Is(err, walletdomain.ErrWalletNotFound):
		return apperr.Wrap(apperr.KindNotFound, "wallet not found", err)
	case errors.Is(err, domain.ErrPositionNotFound):
		return apperr.Wrap(apperr.KindNotFound, "position not found", err)
	case errors.Is(err, assetdomain.ErrAssetNotFound):
		return apperr.Wrap(apperr.KindNotFound, "asset not found", err)
	case errors.Is(err, assetdomain.ErrNotAnOption):
		return apperr.Wrap(apperr.KindInvalidRequest, "asset is not an option", err)
	case errors.Is(err, domain.ErrInsufficientPosition):
		return apperr.Wrap(apperr.KindInvalidRequest, "quantity exceeds position", err)
	case errors.Is(err, domain.ErrInsufficientUnderlying):
		return apperr.Wrap(apperr.KindInvalidRequest, "insufficient underlying shares", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// 提交期幂等键竞争：与预检同样作为 Conflict 上抛
		return apperr.Wrap(apperr.KindConflict, "idempotency key already used", err)
	}
	return err
}
