package garden

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"pomopatch/internal/metrics"
)

// A conflicting transaction is retried once before ErrTxConflict surfaces.
const (
	maxTxAttempts = 2
	txRetryDelay  = 50 * time.Millisecond
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// inTx runs fn inside one serializable transaction. fn must only touch the
// store through tx; its writes become visible together on commit or not at all.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationError(err) {
			break
		}
		if attempt == maxTxAttempts {
			s.log.Warn("transaction conflict persisted", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			err = ErrTxConflict
			break
		}
		metrics.RecordTxRetry(op)
		s.log.Debug("retrying after serialization conflict", zap.String("op", op), zap.Error(err))
		if serr := sleepWithContext(ctx, txRetryDelay); serr != nil {
			err = serr
			break
		}
	}
	metrics.RecordOperation(op, outcome(err), time.Since(start))
	return err
}

func (s *Service) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, ErrTxConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// uniqueViolation returns the violated constraint name, if err is one.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
