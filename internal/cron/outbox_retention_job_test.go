package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/pkg/logger"
)

type stubRetentionRepo struct {
	cutoff      time.Time
	minAttempts int
	deleted     int64
	err         error
}

func (s *stubRetentionRepo) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	s.cutoff = cutoff
	s.minAttempts = minAttemptCount
	return s.deleted, s.err
}

type stubDLQRetentionRepo struct {
	cutoff  time.Time
	called  bool
	deleted int64
	err     error
}

func (s *stubDLQRetentionRepo) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	s.called = true
	s.cutoff = cutoff
	return s.deleted, s.err
}

func TestOutboxRetentionJobDeletesWithDefaults(t *testing.T) {
	repo := &stubRetentionRepo{deleted: 7}
	dlq := &stubDLQRetentionRepo{deleted: 2}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         passthroughTxRunner{},
		Repository: repo,
		DLQ:        dlq,
	})
	if err != nil {
		t.Fatalf("job constructor failed: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if repo.minAttempts != outboxMinAttempts {
		t.Fatalf("expected default min attempts, got %d", repo.minAttempts)
	}
	wantCutoff := time.Now().UTC().Add(-outboxRetentionDays * 24 * time.Hour)
	if repo.cutoff.Sub(wantCutoff) > time.Minute || wantCutoff.Sub(repo.cutoff) > time.Minute {
		t.Fatalf("unexpected cutoff %s", repo.cutoff)
	}
	if !dlq.called {
		t.Fatal("expected dlq prune to run")
	}
	wantDLQCutoff := time.Now().UTC().Add(-dlqRetentionDays * 24 * time.Hour)
	if dlq.cutoff.Sub(wantDLQCutoff) > time.Minute || wantDLQCutoff.Sub(dlq.cutoff) > time.Minute {
		t.Fatalf("unexpected dlq cutoff %s", dlq.cutoff)
	}
}

func TestOutboxRetentionJobPropagatesFailure(t *testing.T) {
	repo := &stubRetentionRepo{err: errors.New("boom")}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         passthroughTxRunner{},
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("job constructor failed: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionJobPrunesDLQDespiteEventFailure(t *testing.T) {
	repo := &stubRetentionRepo{err: errors.New("events boom")}
	dlq := &stubDLQRetentionRepo{err: errors.New("dlq boom")}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         passthroughTxRunner{},
		Repository: repo,
		DLQ:        dlq,
	})
	if err != nil {
		t.Fatalf("job constructor failed: %v", err)
	}

	runErr := job.Run(context.Background())
	if runErr == nil {
		t.Fatal("expected combined error")
	}
	if !dlq.called {
		t.Fatal("expected dlq prune to run after event failure")
	}
	msg := runErr.Error()
	if !strings.Contains(msg, "events boom") || !strings.Contains(msg, "dlq boom") {
		t.Fatalf("expected both failures reported, got %q", msg)
	}
}

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	first := &outboxRetentionJob{}
	registry := NewRegistry(nil, first)
	registry.Register(nil)

	jobs := registry.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	if jobs[0] != Job(first) {
		t.Fatal("unexpected job order")
	}
}
