package core

import (
	"context"
	"testing"
)

func TestMemoryStorage_PutGetDelete(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	if err := storage.Put(ctx, "event:evt_1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, ok, err := storage.Get(ctx, "event:evt_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected key to exist")
	}
	if string(value) != `{"ok":true}` {
		t.Fatalf("unexpected value %q", value)
	}

	if err := storage.Delete(ctx, "event:evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := storage.Get(ctx, "event:evt_1"); ok {
		t.Fatalf("expected key to be gone after delete")
	}
}

func TestMemoryStorage_PutIfAbsentReservesOnce(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	claimed, err := storage.PutIfAbsent(ctx, "event:evt_1", []byte("a"))
	if err != nil {
		t.Fatalf("first put-if-absent: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first reservation to win")
	}

	claimed, err = storage.PutIfAbsent(ctx, "event:evt_1", []byte("b"))
	if err != nil {
		t.Fatalf("second put-if-absent: %v", err)
	}
	if claimed {
		t.Fatalf("expected second reservation to lose")
	}

	value, _, _ := storage.Get(ctx, "event:evt_1")
	if string(value) != "a" {
		t.Fatalf("expected original value preserved, got %q", value)
	}
}

func TestMemoryStorage_ListKeysFiltersByPrefix(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	for _, key := range []string{"deadletter:evt_1", "deadletter:evt_2", "event:evt_3"} {
		if err := storage.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	keys, err := storage.ListKeys(ctx, "deadletter:")
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 dead letter keys, got %d", len(keys))
	}
}

func TestMemoryStorage_RejectsEmptyKey(t *testing.T) {
	storage := NewMemoryStorage()
	if err := storage.Put(context.Background(), "  ", []byte("x")); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}
