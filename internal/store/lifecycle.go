package store

import (
	"context"
	"errors"
	"log/slog"

	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"

	"gorm.io/gorm"
)

// Lifecycle 负责账户的级联删除：账户与其全部任务作为一个原子单元删除。
type Lifecycle struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewLifecycle 创建级联删除协调器。
func NewLifecycle(db *gorm.DB, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{db: db, logger: logger}
}

// DeleteAccount 在单个事务内删除账户及其所有任务。
//
// 两类写入要么一起可见要么都不可见；并发读永远观察不到失去所有者的任务。
// 幂等：账户已删除时返回 ErrNotFound，不产生任何副作用。
// 事务失败最多重试一次，之后原样上抛。
func (l *Lifecycle) DeleteAccount(ctx context.Context, id uint) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			metrics.CascadeRetryTotal.Inc()
			if l.logger != nil {
				l.logger.Warn("cascade delete retry",
					slog.Uint64("account_id", uint64(id)),
					slog.String("error", lastErr.Error()),
				)
			}
		}
		err := l.deleteOnce(ctx, id)
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (l *Lifecycle) deleteOnce(ctx context.Context, id uint) error {
	tx := l.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Where("owner_id = ?", id).Delete(&model.Task{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	res := tx.Where("id = ?", id).Delete(&model.Account{})
	if res.Error != nil {
		tx.Rollback()
		return res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return ErrNotFound
	}

	return tx.Commit().Error
}
