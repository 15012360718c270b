package application

import (
	"errors"

	"gorm.io/gorm"

	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	optiondomain "github.com/Gsaudx/Advision-sub000/internal/option/domain"
	"github.com/Gsaudx/Advision-sub000/internal/strategy/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
)

// mapDomainErr 把领域哨兵错误翻译成对外错误码。
// 提交期唯一键冲突视为幂等键竞争，统一报 Conflict。
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
		return apperr.Wrap(apperr.KindAccessDenied, "wallet access denied", err)
	case errors.Is(err, walletdomain.ErrWalletNotFound):
		return apperr.Wrap(apperr.KindNotFound, "wallet not found", err)
	case errors.Is(err, domain.ErrOperationNotFound):
		return apperr.Wrap(apperr.KindNotFound, "operation not found", err)
	case errors.Is(err, domain.ErrInvalidCursor):
		return apperr.Wrap(apperr.KindInvalidRequest, "invalid pagination cursor", err)
	case errors.Is(err, optiondomain.ErrPositionNotFound):
		return apperr.Wrap(apperr.KindNotFound, "position not found", err)
	case errors.Is(err, assetdomain.ErrAssetNotFound):
		return apperr.Wrap(apperr.KindNotFound, "asset not found", err)
	case errors.Is(err, assetdomain.ErrNotAnOption), errors.Is(err, assetdomain.ErrOptionDetailNotFound):
		return apperr.Wrap(apperr.KindInvalidRequest, "asset is not a valid option", err)
	case errors.Is(err, walletdomain.ErrInsufficientFunds):
		return apperr.Wrap(apperr.KindInsufficientFunds, "insufficient cash balance", err)
	case errors.Is(err, walletdomain.ErrInsufficientCollateral):
		return apperr.Wrap(apperr.KindInsufficientCollateral, "insufficient unblocked cash for collateral", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Wrap(apperr.KindConflict, "idempotency key already used", err)
	default:
		return err
	}
}
