package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// recordingStore captures the key and TTL the manager hands to Redis.
type recordingStore struct {
	claimed  bool
	claimErr error

	setKey  string
	setTTL  time.Duration
	deleted []string
}

func (s *recordingStore) Get(context.Context, string) (string, error) { return "", nil }

func (s *recordingStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	s.setKey = key
	s.setTTL = ttl
	return s.claimed, s.claimErr
}

func (s *recordingStore) Del(_ context.Context, keys ...string) error {
	s.deleted = append(s.deleted, keys...)
	return nil
}

func (s *recordingStore) IdempotencyKey(scope, id string) string {
	return "sd:idempotency:" + scope + ":" + id
}

func newManager(t *testing.T, store *recordingStore, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(store, ttl)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func processedKey(consumer string, eventID uuid.UUID) string {
	return "sd:idempotency:evt:processed:" + consumer + ":" + eventID.String()
}

func TestCheckAndMarkProcessedClaimsOnFirstDelivery(t *testing.T) {
	store := &recordingStore{claimed: true}
	m := newManager(t, store, 24*time.Hour)

	eventID := uuid.New()
	duplicate, err := m.CheckAndMarkProcessed(context.Background(), "fees-worker", eventID)
	if err != nil {
		t.Fatalf("CheckAndMarkProcessed: %v", err)
	}
	if duplicate {
		t.Fatal("first delivery reported as duplicate")
	}
	if want := processedKey("fees-worker", eventID); store.setKey != want {
		t.Fatalf("key = %q, want %q", store.setKey, want)
	}
	if store.setTTL != 24*time.Hour {
		t.Fatalf("ttl = %v, want 24h", store.setTTL)
	}
}

func TestCheckAndMarkProcessedFlagsDuplicate(t *testing.T) {
	m := newManager(t, &recordingStore{claimed: false}, 12*time.Hour)

	duplicate, err := m.CheckAndMarkProcessed(context.Background(), "fees-worker", uuid.New())
	if err != nil {
		t.Fatalf("CheckAndMarkProcessed: %v", err)
	}
	if !duplicate {
		t.Fatal("second delivery not reported as duplicate")
	}
}

func TestCheckAndMarkProcessedSurfacesStoreFailure(t *testing.T) {
	m := newManager(t, &recordingStore{claimErr: errors.New("redis down")}, time.Hour)

	if _, err := m.CheckAndMarkProcessed(context.Background(), "fees-worker", uuid.New()); err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestCheckAndMarkProcessedRejectsBadInput(t *testing.T) {
	m := newManager(t, &recordingStore{claimed: true}, time.Hour)

	if _, err := m.CheckAndMarkProcessed(context.Background(), "", uuid.New()); err == nil {
		t.Fatal("expected error for empty consumer")
	}
	if _, err := m.CheckAndMarkProcessed(context.Background(), "fees-worker", uuid.Nil); err == nil {
		t.Fatal("expected error for nil event id")
	}
}

func TestDeleteReleasesClaim(t *testing.T) {
	store := &recordingStore{}
	m := newManager(t, store, time.Hour)

	eventID := uuid.New()
	if err := m.Delete(context.Background(), "fees-worker", eventID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	want := processedKey("fees-worker", eventID)
	if len(store.deleted) != 1 || store.deleted[0] != want {
		t.Fatalf("deleted = %v, want [%s]", store.deleted, want)
	}
}
