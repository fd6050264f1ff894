package stripewebhook

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeIdempotencyStore struct {
	keys map[string]string
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	return f.keys[key], nil
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.keys == nil {
		f.keys = map[string]string{}
	}
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "plateful:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksAndReleases(t *testing.T) {
	store := &fakeIdempotencyStore{}
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe-webhook")
	if err != nil {
		t.Fatalf("NewIdempotencyGuard returned error: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark returned error: %v", err)
	}
	if seen {
		t.Fatal("expected first delivery to be fresh")
	}

	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark returned error: %v", err)
	}
	if !seen {
		t.Fatal("expected replay to be flagged as duplicate")
	}

	if err := guard.Release(ctx, "evt_1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark returned error: %v", err)
	}
	if seen {
		t.Fatal("expected released event to be processable again")
	}

	for key := range store.keys {
		if !strings.Contains(key, "stripe-webhook") {
			t.Errorf("expected scoped key, got %q", key)
		}
	}
}

func TestNewIdempotencyGuardValidates(t *testing.T) {
	if _, err := NewIdempotencyGuard(nil, time.Hour, "scope"); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewIdempotencyGuard(&fakeIdempotencyStore{}, -time.Second, "scope"); err == nil {
		t.Error("expected error for negative ttl")
	}
	if _, err := NewIdempotencyGuard(&fakeIdempotencyStore{}, time.Hour, ""); err == nil {
		t.Error("expected error for empty scope")
	}
}
