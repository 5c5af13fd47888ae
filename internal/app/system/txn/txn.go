// Package txn runs multi-document writes inside a MongoDB transaction.
//
// Standalone servers do not support transactions. Run detects that case and
// executes the function without a transaction so development setups keep
// working; callers must then tolerate partial writes (the admission protocol
// compensates by deleting its own speculative insert).
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// Run executes fn inside a transaction. The context passed to fn carries the
// session; every store call made with it joins the transaction.
//
// Transient transaction errors and unknown commit results are retried by the
// driver. When the deployment does not support transactions, fn is run once
// more with a plain context.
func Run(ctx context.Context, db *mongo.Database, logger *zap.Logger, fn func(ctx context.Context) error) error {
	sess, err := db.Client().StartSession()
	if err != nil {
		if IsNotSupported(err) {
			return runWithout(ctx, logger, fn)
		}
		return err
	}
	defer sess.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, opts)
	if err != nil && IsNotSupported(err) {
		return runWithout(ctx, logger, fn)
	}
	return err
}

func runWithout(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if logger != nil {
		logger.Debug("transactions not supported, running without")
	}
	return fn(ctx)
}

// IsNotSupported reports whether err means the server cannot run
// transactions (standalone mongod, unsupported storage engine).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 20, 51, 263:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	pairs := [][2]string{
		{"transaction", "replica set"},
		{"session", "not supported"},
		{"transaction", "session"},
		{"illegal operation", "transaction"},
	}
	for _, p := range pairs {
		if strings.Contains(msg, p[0]) && strings.Contains(msg, p[1]) {
			return true
		}
	}
	return false
}

// IsWriteConflict reports whether err is a write conflict between two
// concurrent transactions.
func IsWriteConflict(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 112 || ce.HasErrorLabel("TransientTransactionError")
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 112 {
				return true
			}
		}
	}
	return false
}
