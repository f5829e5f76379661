package notify

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/inkwell/inkwell/internal/model"
	"github.com/inkwell/inkwell/internal/repository"
	"github.com/inkwell/inkwell/internal/testutil"
)

func newIntegrationRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "TEST_DATABASE_URL")

	pgxRepo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pgxRepo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pgxRepo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetNotifySchema(ctx, pgxRepo.Pool()); err != nil {
		t.Fatalf("reset notify schema: %v", err)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return NewRepository(db)
}

func seedDelivery(t *testing.T, repo *Repository) *model.Delivery {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	sub := testutil.NewTestSubscription(t, "https://receiver.example.com/hooks")
	if err := repo.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	notification := &model.Notification{
		ID:          testutil.UniqueID("notif"),
		EventType:   model.EventEntryCreated,
		EntityType:  "entry",
		EntityID:    testutil.UniqueID("entry"),
		PayloadJSON: `{"event_type":"entry.created"}`,
		Status:      model.NotificationPending,
		OccurredAt:  now,
		CreatedAt:   now,
	}
	if err := repo.CreateNotification(ctx, notification); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	delivery := &model.Delivery{
		ID:             testutil.UniqueID("dlv"),
		SubscriptionID: sub.ID,
		NotificationID: notification.ID,
		EventType:      notification.EventType,
		PayloadJSON:    notification.PayloadJSON,
		Status:         model.DeliveryStatusPending,
		MaxAttempts:    5,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.CreateDelivery(ctx, delivery); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	return delivery
}

func loadDelivery(t *testing.T, repo *Repository, subscriptionID, id string) *model.Delivery {
	t.Helper()
	deliveries, _, err := repo.ListDeliveriesBySubscription(context.Background(), subscriptionID, nil, 50, 0)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	for _, d := range deliveries {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("delivery %s not found", id)
	return nil
}

// A network error carries no HTTP status; the failure must still be
// recorded so the retry schedule advances.
func TestUpdateDeliveryFailure_NoHTTPStatus(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()

	delivery := seedDelivery(t, repo)

	next := time.Now().UTC().Add(30 * time.Second)
	err := repo.UpdateDeliveryFailure(ctx, delivery.ID, nil, "dial tcp: connection refused", next, false)
	if err != nil {
		t.Fatalf("update delivery failure: %v", err)
	}

	got := loadDelivery(t, repo, delivery.SubscriptionID, delivery.ID)
	if got.Status != model.DeliveryStatusFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("expected attempt count 1, got %d", got.AttemptCount)
	}
	if got.LastHTTPStatus != nil {
		t.Errorf("expected no HTTP status, got %d", *got.LastHTTPStatus)
	}
	if got.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestUpdateDeliveryFailure_Exhausted(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()

	delivery := seedDelivery(t, repo)

	status := 503
	next := time.Now().UTC().Add(time.Hour)
	err := repo.UpdateDeliveryFailure(ctx, delivery.ID, &status, "upstream unavailable", next, true)
	if err != nil {
		t.Fatalf("update delivery failure: %v", err)
	}

	got := loadDelivery(t, repo, delivery.SubscriptionID, delivery.ID)
	if got.Status != model.DeliveryStatusExhausted {
		t.Errorf("expected status exhausted, got %s", got.Status)
	}
	if got.LastHTTPStatus == nil || *got.LastHTTPStatus != 503 {
		t.Errorf("expected HTTP status 503, got %v", got.LastHTTPStatus)
	}
}
