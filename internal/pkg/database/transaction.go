package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// Transaction executes fn within a database transaction
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	return db.TransactionWithOptions(ctx, nil, fn)
}

// TransactionWithOptions executes fn within a transaction using opts
func (db *DB) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	var txOpts []*sql.TxOptions
	if opts != nil {
		txOpts = append(txOpts, opts)
	}
	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ctx, tx); err != nil {
			db.logger.WithContext(ctx).Debug("transaction rolled back", zap.Error(err))
			return err
		}
		return nil
	}, txOpts...)
}

// ExecuteWithRetry runs fn in a transaction, retrying serialization failures and deadlocks
func (db *DB) ExecuteWithRetry(ctx context.Context, attempts uint, fn TxFunc) error {
	return retry.Do(
		func() error { return db.Transaction(ctx, fn) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryableError),
		retry.OnRetry(func(n uint, err error) {
			db.logger.WithContext(ctx).Warn("retrying transaction",
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
}

// isRetryableError matches PostgreSQL 40001 (serialization failure) and 40P01 (deadlock)
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") || strings.Contains(msg, "SQLSTATE 40P01")
}
