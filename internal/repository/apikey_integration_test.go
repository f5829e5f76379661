package repository

import (
	"context"
	"testing"
	"time"

	"github.com/inkwell/inkwell/internal/testutil"
)

func newIntegrationRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "TEST_DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetUsersSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset users schema: %v", err)
	}
	if err := testutil.ResetAPIKeysSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset api_keys schema: %v", err)
	}

	return repo
}

func TestTouchAPIKeyLastUsed(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, "touch@inkwell.local")
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	key := testutil.NewTestAPIKey(t, user.ID)
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	created, err := repo.GetAPIKeyByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("get api key: %v", err)
	}
	if created.LastUsedAt != nil {
		t.Fatalf("expected fresh key to have no last_used_at, got %v", created.LastUsedAt)
	}

	before := time.Now().UTC().Add(-time.Second)
	if err := repo.TouchAPIKeyLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("touch api key: %v", err)
	}

	touched, err := repo.GetAPIKeyByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("get api key: %v", err)
	}
	if touched.LastUsedAt == nil {
		t.Fatal("expected last_used_at to be set")
	}
	if touched.LastUsedAt.Before(before) {
		t.Errorf("last_used_at %v is before the touch", touched.LastUsedAt)
	}
}
