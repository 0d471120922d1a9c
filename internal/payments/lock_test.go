package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/config"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
)

type fakeLockStore struct {
	values      map[string]string
	setNXCalls  int
	failOnFirst int
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: make(map[string]string)}
}

func (f *fakeLockStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.setNXCalls++
	if f.setNXCalls <= f.failOnFirst {
		return false, nil
	}
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeLockStore) LockKey(scope, id string) string {
	return "sd:lock:" + scope + ":" + id
}

func (f *fakeLockStore) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	if f.values[key] != value {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func lockConfig() config.PaymentsConfig {
	return config.PaymentsConfig{
		LockTTL:          time.Second,
		LockRetries:      2,
		LockRetryBackoff: time.Millisecond,
	}
}

func TestLockerAcquireAndRelease(t *testing.T) {
	store := newFakeLockStore()
	locker, err := NewRedisStudentLocker(store, lockConfig())
	if err != nil {
		t.Fatalf("locker constructor failed: %v", err)
	}

	studentID := uuid.New()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, studentID)
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}
	key := store.LockKey(lockScopeStudent, studentID.String())
	if _, held := store.values[key]; !held {
		t.Fatal("expected lock key to be held")
	}

	if err := release(ctx); err != nil {
		t.Fatalf("expected release to succeed, got %v", err)
	}
	if _, held := store.values[key]; held {
		t.Fatal("expected lock key to be released")
	}
}

func TestLockerRetriesBeforeConflict(t *testing.T) {
	store := newFakeLockStore()
	store.failOnFirst = 2
	locker, err := NewRedisStudentLocker(store, lockConfig())
	if err != nil {
		t.Fatalf("locker constructor failed: %v", err)
	}

	release, err := locker.Acquire(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected acquire after retries, got %v", err)
	}
	if store.setNXCalls != 3 {
		t.Fatalf("expected three attempts, got %d", store.setNXCalls)
	}
	_ = release(context.Background())
}

func TestLockerConflictAfterRetriesExhausted(t *testing.T) {
	store := newFakeLockStore()
	store.failOnFirst = 10
	locker, err := NewRedisStudentLocker(store, lockConfig())
	if err != nil {
		t.Fatalf("locker constructor failed: %v", err)
	}

	_, err = locker.Acquire(context.Background(), uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeConcurrency) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if store.setNXCalls != 3 {
		t.Fatalf("expected three attempts, got %d", store.setNXCalls)
	}
}

func TestLockerReleaseSkipsForeignOwner(t *testing.T) {
	store := newFakeLockStore()
	locker, err := NewRedisStudentLocker(store, lockConfig())
	if err != nil {
		t.Fatalf("locker constructor failed: %v", err)
	}

	studentID := uuid.New()
	ctx := context.Background()
	release, err := locker.Acquire(ctx, studentID)
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}

	// simulate TTL expiry and takeover by another writer
	key := store.LockKey(lockScopeStudent, studentID.String())
	store.values[key] = "someone-else"

	if err := release(ctx); err != nil {
		t.Fatalf("expected release to succeed, got %v", err)
	}
	if store.values[key] != "someone-else" {
		t.Fatal("release must not delete a lock it no longer owns")
	}
}
