package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// WithTx 将事务句柄放入 context，供仓储在同一工作单元内复用
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom 从 context 取出事务句柄，没有则返回 fallback
func TxFrom(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return fallback
}

// TxManager 原子工作单元边界。
// 应用层通过它组织"全部提交或全部回滚"的业务操作，
// 测试可用直通实现替换。
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// GormTxManager 基于 gorm 事务的 TxManager 实现
type GormTxManager struct {
	db *gorm.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

// InTx 在单个数据库事务内执行 fn，fn 返回错误时整体回滚
func (m *GormTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
}
