package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultStorageTimeout bounds every repository call when no timeout is configured.
const DefaultStorageTimeout = 3 * time.Second

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict indicates an optimistic update lost against a concurrent writer.
	ErrVersionConflict = errors.New("record was modified concurrently")
	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStorageTimeout indicates the storage round-trip exceeded its deadline.
	ErrStorageTimeout = errors.New("storage call timed out")
)

// storage runs gorm calls under a bounded deadline and normalises their errors.
type storage struct {
	db      *gorm.DB
	timeout time.Duration
}

func newStorage(db *gorm.DB, timeout time.Duration) storage {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return storage{db: db, timeout: timeout}
}

func (s storage) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return translateError(callCtx, fn(s.db.WithContext(callCtx)))
}

func translateError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}
