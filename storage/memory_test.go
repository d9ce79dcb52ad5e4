package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_PutGetExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if ok, _ := s.Exists(ctx, "a"); ok {
		t.Fatal("Exists() on empty store = true, want false")
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() err=%v, want %v", err, ErrNotFound)
	}

	in := []byte("payload")
	if err := s.Put(ctx, "a", in); err != nil {
		t.Fatalf("Put() err=%v, want nil", err)
	}
	in[0] = 'X'

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() err=%v, want nil", err)
	}
	if string(got) != "payload" {
		t.Fatalf("Get()=%q, want payload (store must keep its own copy)", got)
	}
	if ok, _ := s.Exists(ctx, "a"); !ok {
		t.Fatal("Exists() = false, want true")
	}
}

func TestMemoryStore_ZeroByteBlobExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "results/i/status", nil); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if ok, _ := s.Exists(ctx, "results/i/status"); !ok {
		t.Fatal("zero-byte marker should exist")
	}

	_ = s.Delete(ctx, "results/i/status")
	_ = s.Delete(ctx, "results/i/status")
	if ok, _ := s.Exists(ctx, "results/i/status"); ok {
		t.Fatal("Exists() after Delete = true, want false")
	}
}
