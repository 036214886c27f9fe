package lockstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreAcquireRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ok, err := s.Acquire(ctx, "example.com", "task-a", 60)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v), want (true, nil)", ok, err)
	}

	ok, _ = s.Acquire(ctx, "example.com", "task-b", 60)
	if ok {
		t.Error("second owner acquired a held lease")
	}

	// Re-entrant for the same owner.
	ok, _ = s.Acquire(ctx, "example.com", "task-a", 60)
	if !ok {
		t.Error("same owner could not refresh its own lease")
	}

	ok, _ = s.Release(ctx, "example.com", "task-b")
	if ok {
		t.Error("non-owner released the lease")
	}

	ok, _ = s.Release(ctx, "example.com", "task-a")
	if !ok {
		t.Error("owner failed to release the lease")
	}

	ok, _ = s.Acquire(ctx, "example.com", "task-b", 60)
	if !ok {
		t.Error("lease not acquirable after release")
	}
}

func TestMemoryStoreLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	current := time.Unix(1000, 0)
	s.now = func() time.Time { return current }

	if ok, _ := s.Acquire(ctx, "example.com", "task-a", 30); !ok {
		t.Fatal("acquire failed")
	}

	current = current.Add(31 * time.Second)

	if ok, _ := s.Acquire(ctx, "example.com", "task-b", 30); !ok {
		t.Error("expired lease should be acquirable by a new owner")
	}
	if ok, _ := s.Release(ctx, "example.com", "task-a"); ok {
		t.Error("original owner released a lease it no longer holds")
	}
}

func TestMemoryStoreReleaseDropsExpiredLease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	current := time.Unix(1000, 0)
	s.now = func() time.Time { return current }

	if ok, _ := s.Acquire(ctx, "example.com", "task-a", 30); !ok {
		t.Fatal("acquire failed")
	}

	current = current.Add(31 * time.Second)

	if ok, _ := s.Release(ctx, "example.com", "task-a"); ok {
		t.Error("released an expired lease")
	}
	if len(s.leases) != 0 {
		t.Errorf("expired lease left behind: %d entries", len(s.leases))
	}
}

func TestMemoryStoreSeen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if ok, _ := s.Seen(ctx, "https://example.com/p1"); ok {
		t.Error("fresh id reported as seen")
	}
	if err := s.MarkSeen(ctx, "https://example.com/p1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Seen(ctx, "https://example.com/p1"); !ok {
		t.Error("marked id not reported as seen")
	}
}
