package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pastebox/pkg/domain"
)

func TestLRUSetGet(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatalf("NewLRU failed: %v", err)
	}
	ctx := context.Background()
	p := &domain.Paste{ID: "abcd1234", Content: "cached"}
	l.Set(ctx, p, time.Minute)
	got := l.Get(ctx, "abcd1234")
	if got == nil || got.Content != "cached" {
		t.Errorf("got %+v", got)
	}
	if l.Get(ctx, "missing0") != nil {
		t.Error("unknown id returned an entry")
	}
}

func TestLRUEntryExpiry(t *testing.T) {
	l, err := NewLRU(10)
	if err != nil {
		t.Fatalf("NewLRU failed: %v", err)
	}
	ctx := context.Background()
	l.Set(ctx, &domain.Paste{ID: "short001"}, 20*time.Millisecond)
	if l.Get(ctx, "short001") == nil {
		t.Fatal("entry missing before its deadline")
	}
	time.Sleep(40 * time.Millisecond)
	if l.Get(ctx, "short001") != nil {
		t.Error("entry survived its deadline")
	}
}

func TestLRUZeroTTLIgnored(t *testing.T) {
	l, _ := NewLRU(10)
	ctx := context.Background()
	l.Set(ctx, &domain.Paste{ID: "nottl001"}, 0)
	if l.Get(ctx, "nottl001") != nil {
		t.Error("zero ttl entry was cached")
	}
}

func TestLRUDelete(t *testing.T) {
	l, _ := NewLRU(10)
	ctx := context.Background()
	l.Set(ctx, &domain.Paste{ID: "gone0001"}, time.Minute)
	l.Delete("gone0001")
	if l.Get(ctx, "gone0001") != nil {
		t.Error("deleted entry still cached")
	}
}

func TestLRUEviction(t *testing.T) {
	l, err := NewLRU(2)
	if err != nil {
		t.Fatalf("NewLRU failed: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.Set(ctx, &domain.Paste{ID: fmt.Sprintf("evict00%d", i)}, time.Minute)
	}
	if l.Get(ctx, "evict000") != nil {
		t.Error("oldest entry survived past capacity")
	}
	if l.Get(ctx, "evict002") == nil {
		t.Error("newest entry evicted")
	}
}

func TestNewLRUBounds(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("size 0 accepted")
	}
	if _, err := NewLRU(200000); err == nil {
		t.Error("oversized cache accepted")
	}
}
