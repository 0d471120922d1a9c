package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/config"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
	"github.com/schooldesk/schooldesk-backend/pkg/redis"
)

const lockScopeStudent = "student"

// StudentLocker serializes payment recording per student.
type StudentLocker interface {
	Acquire(ctx context.Context, studentID uuid.UUID) (Release, error)
}

// Release frees a held lock. Safe to call once after a successful Acquire.
type Release func(ctx context.Context) error

// RedisStudentLocker implements StudentLocker with Redis SETNX + TTL.
// Acquisition is retried a bounded number of times before giving up with
// a concurrency conflict.
type RedisStudentLocker struct {
	store   redis.LockStore
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewRedisStudentLocker builds a locker from the payments configuration.
func NewRedisStudentLocker(store redis.LockStore, cfg config.PaymentsConfig) (*RedisStudentLocker, error) {
	if store == nil {
		return nil, errors.New("lock store required")
	}
	locker := &RedisStudentLocker{
		store:   store,
		ttl:     cfg.LockTTL,
		retries: cfg.LockRetries,
		backoff: cfg.LockRetryBackoff,
	}
	if locker.ttl <= 0 {
		locker.ttl = 10 * time.Second
	}
	if locker.retries < 0 {
		locker.retries = 0
	}
	if locker.backoff <= 0 {
		locker.backoff = 100 * time.Millisecond
	}
	return locker, nil
}

func (l *RedisStudentLocker) Acquire(ctx context.Context, studentID uuid.UUID) (Release, error) {
	key := l.store.LockKey(lockScopeStudent, studentID.String())
	owner := uuid.NewString()

	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrency, ctx.Err(), "lock wait cancelled")
			case <-time.After(l.backoff):
			}
		}

		ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire student lock")
		}
		if ok {
			return l.release(key, owner), nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConcurrency, "student is locked by another payment")
}

// release frees the lock only if the owner value still matches. The compare
// and delete run as one server-side operation, so an expired lock taken over
// by another writer is never deleted.
func (l *RedisStudentLocker) release(key, owner string) Release {
	return func(ctx context.Context) error {
		if _, err := l.store.DelIfEqual(ctx, key, owner); err != nil {
			return fmt.Errorf("release student lock: %w", err)
		}
		return nil
	}
}
