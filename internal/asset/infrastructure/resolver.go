package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
	"github.com/Gsaudx/Advision-sub000/pkg/logger"
)

// MetadataSource 上游资产元数据来源（行情/参考数据服务）
type MetadataSource interface {
	GetMetadata(ctx context.Context, ticker string) (*domain.AssetMetadata, error)
}

// Resolver 资产解析器的 gorm 实现：首次使用某 ticker 时从上游元数据落库
type Resolver struct {
	db     *gorm.DB
	source MetadataSource
}

func NewResolver(gdb *gorm.DB, source MetadataSource) *Resolver {
	return &Resolver{db: gdb, source: source}
}

func (r *Resolver) conn(ctx context.Context) *gorm.DB {
	return db.TxFrom(ctx, r.db).WithContext(ctx)
}

func (r *Resolver) EnsureAssetExists(ctx context.Context, ticker string) (*domain.Asset, error) {
	var asset domain.Asset
	err := r.conn(ctx).Where("ticker = ?", ticker).First(&asset).Error
	if err == nil {
		return &asset, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	meta, err := r.source.GetMetadata(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve metadata for %s: %w", ticker, err)
	}

	asset = domain.Asset{
		AssetID: uuid.NewString(),
		Ticker:  meta.Ticker,
		Type:    meta.Type,
	}
	if err := r.conn(ctx).Create(&asset).Error; err != nil {
		// 并发首次解析同一 ticker：另一请求先落库，改为读取
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing domain.Asset
			if gerr := r.conn(ctx).Where("ticker = ?", ticker).First(&existing).Error; gerr != nil {
				return nil, gerr
			}
			return &existing, nil
		}
		return nil, err
	}

	if meta.Type == domain.AssetTypeOption {
		underlying, err := r.EnsureAssetExists(ctx, meta.UnderlyingTicker)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve underlying %s: %w", meta.UnderlyingTicker, err)
		}
		detail := domain.OptionDetail{
			AssetID:           asset.AssetID,
			OptionType:        meta.OptionType,
			ExerciseStyle:     meta.ExerciseStyle,
			StrikePrice:       meta.StrikePrice,
			ExpirationDate:    meta.ExpirationDate,
			UnderlyingAssetID: underlying.AssetID,
		}
		if err := r.conn(ctx).Create(&detail).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}

	logger.Info(ctx, "asset created from upstream metadata", "ticker", ticker, "type", meta.Type)
	return &asset, nil
}

func (r *Resolver) GetByID(ctx context.Context, assetID string) (*domain.Asset, error) {
	var asset domain.Asset
	if err := r.conn(ctx).Where("asset_id = ?", assetID).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAssetNotFound
		}
		return nil, err
	}
	return &asset, nil
}

func (r *Resolver) OptionDetail(ctx context.Context, assetID string) (*domain.OptionDetail, error) {
	var detail domain.OptionDetail
	if err := r.conn(ctx).Where("asset_id = ?", assetID).First(&detail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotAnOption
		}
		return nil, err
	}
	return &detail, nil
}
