package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	"github.com/plateful/mealplanner-backend/pkg/outbox/payloads"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	schema := `CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at DATETIME
);`
	if err := conn.Exec(schema).Error; err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return conn
}

func TestEmitStoresEnvelope(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)

	userID := uuid.New()
	aggregateID := uuid.New()
	data := payloads.EntitlementUpdatedEvent{
		UserID:               userID,
		StripeSubscriptionID: "sub_123",
		Status:               enums.SubscriptionStatusActive,
		Entitled:             true,
		EventAt:              time.Now(),
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventEntitlementUpdated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   aggregateID,
			Actor:         &ActorRef{UserID: userID, Source: "stripe-webhook"},
			Data:          data,
		})
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	var row models.OutboxEvent
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("fetching outbox row: %v", err)
	}
	if row.EventType != enums.EventEntitlementUpdated {
		t.Errorf("expected event type %q, got %q", enums.EventEntitlementUpdated, row.EventType)
	}
	if row.AggregateID != aggregateID {
		t.Errorf("expected aggregate id %s, got %s", aggregateID, row.AggregateID)
	}
	if row.PublishedAt != nil {
		t.Error("expected new row to be unpublished")
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Version != 1 {
		t.Errorf("expected default version 1, got %d", envelope.Version)
	}
	if envelope.EventID == "" {
		t.Error("expected generated event id")
	}
	if envelope.Actor == nil || envelope.Actor.UserID != userID {
		t.Error("expected actor to carry the user id")
	}

	var decoded payloads.EntitlementUpdatedEvent
	if err := json.Unmarshal(envelope.Data, &decoded); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if decoded.StripeSubscriptionID != "sub_123" || !decoded.Entitled {
		t.Errorf("unexpected decoded payload: %+v", decoded)
	}
}

func TestEmitRequiresTransaction(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)

	err := svc.Emit(context.Background(), nil, DomainEvent{
		EventType:     enums.EventEntitlementUpdated,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
	})
	if err == nil {
		t.Fatal("expected error for nil transaction")
	}
}

func TestFetchUnpublishedOrdersAndFilters(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		aggregateID := uuid.New()
		ids = append(ids, aggregateID)
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(context.Background(), tx, DomainEvent{
				EventType:     enums.EventEntitlementUpdated,
				AggregateType: enums.AggregateSubscription,
				AggregateID:   aggregateID,
				Data:          map[string]any{"seq": i},
			})
		})
		if err != nil {
			t.Fatalf("Emit %d returned error: %v", i, err)
		}
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("FetchUnpublished returned error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 unpublished rows, got %d", len(rows))
	}

	if err := repo.MarkPublished(rows[0].ID); err != nil {
		t.Fatalf("MarkPublished returned error: %v", err)
	}

	remaining, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("FetchUnpublished returned error: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 unpublished rows after publish, got %d", len(remaining))
	}
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventEntitlementRevoked,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   uuid.New(),
			Data:          map[string]any{},
		})
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	rows, err := repo.FetchUnpublished(1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("FetchUnpublished: rows=%d err=%v", len(rows), err)
	}

	if err := repo.MarkFailed(rows[0].ID, fmt.Errorf("publish timeout")); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}
	if err := repo.MarkFailed(rows[0].ID, fmt.Errorf("publish timeout")); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	var row models.OutboxEvent
	if err := db.First(&row, "id = ?", rows[0].ID).Error; err != nil {
		t.Fatalf("fetching row: %v", err)
	}
	if row.AttemptCount != 2 {
		t.Errorf("expected attempt count 2, got %d", row.AttemptCount)
	}
	if row.LastError == nil || *row.LastError != "publish timeout" {
		t.Errorf("expected last error recorded, got %v", row.LastError)
	}

	stuck, err := repo.CountStuck(2)
	if err != nil {
		t.Fatalf("CountStuck returned error: %v", err)
	}
	if stuck != 1 {
		t.Errorf("expected 1 stuck row, got %d", stuck)
	}
}

func TestDeletePublishedBefore(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventEntitlementUpdated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   uuid.New(),
			Data:          map[string]any{},
		})
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	rows, _ := repo.FetchUnpublished(1)
	if err := repo.MarkPublished(rows[0].ID); err != nil {
		t.Fatalf("MarkPublished returned error: %v", err)
	}

	deleted, err := repo.DeletePublishedBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeletePublishedBefore returned error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted row, got %d", deleted)
	}

	var n int64
	db.Model(&models.OutboxEvent{}).Count(&n)
	if n != 0 {
		t.Errorf("expected empty outbox, got %d rows", n)
	}
}

func TestFetchPublishableSkipsExhaustedRows(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(context.Background(), tx, DomainEvent{
				EventType:     enums.EventEntitlementUpdated,
				AggregateType: enums.AggregateSubscription,
				AggregateID:   uuid.New(),
				Data:          map[string]any{"seq": i},
			})
		})
		if err != nil {
			t.Fatalf("Emit %d returned error: %v", i, err)
		}
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("FetchUnpublished: rows=%d err=%v", len(rows), err)
	}

	for i := 0; i < 3; i++ {
		if err := repo.MarkFailed(rows[0].ID, fmt.Errorf("publish timeout")); err != nil {
			t.Fatalf("MarkFailed returned error: %v", err)
		}
	}

	publishable, err := repo.FetchPublishable(10, 3)
	if err != nil {
		t.Fatalf("FetchPublishable returned error: %v", err)
	}
	if len(publishable) != 1 {
		t.Fatalf("expected 1 publishable row, got %d", len(publishable))
	}
	if publishable[0].ID != rows[1].ID {
		t.Errorf("exhausted row returned as publishable")
	}
}
