package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/resilience"
)

const (
	defaultStoreTimeout = 5 * time.Second
	uniqueViolation     = "23505"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

// store bounds every call with a timeout and retries transient
// connectivity failures through the resilience executor.
type store struct {
	db       *sql.DB
	timeout  time.Duration
	executor *resilience.Executor
}

func newStore(db *sql.DB, options Options) store {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return store{db: db, timeout: timeout, executor: options.ResilienceExecutor}
}

func (s store) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var err error
	if s.executor != nil {
		err = s.executor.Execute(callCtx, "postgres."+operation, fn, classifyPostgresError)
	} else {
		err = fn(callCtx)
	}
	if err == nil {
		return nil
	}
	return mapPostgresError(callCtx, operation, err)
}

func mapPostgresError(ctx context.Context, operation string, err error) error {
	if domainKind(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTimeout, operation, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isUniqueViolation(err) {
		return domain.WrapError(domain.ErrDuplicateID, operation, err)
	}
	if classifyPostgresError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func domainKind(err error) bool {
	for _, kind := range []error{
		domain.ErrNotFound,
		domain.ErrDuplicateID,
		domain.ErrInvalidTransition,
		domain.ErrValidation,
		domain.ErrTimeout,
		domain.ErrTemporary,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func classifyPostgresError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || domainKind(err) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 connection exceptions, serialization failures and deadlocks
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P03":
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
