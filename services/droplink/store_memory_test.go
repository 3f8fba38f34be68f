package droplink

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func sampleDrop(n int64, expires uint64) Drop {
	return Drop{ID: dropID(n), Sender: sender, Amount: big.NewInt(n), Active: true, ExpiresAt: expires}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, _ := s.Get(ctx, dropID(1)); ok {
		t.Fatal("empty store reported a drop")
	}
	if err := s.Create(ctx, sampleDrop(1, 10)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, sampleDrop(1, 99)); !errors.Is(err, ErrDropExists) {
		t.Fatalf("duplicate Create() err = %v", err)
	}

	d, ok, err := s.Get(ctx, dropID(1))
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if d.ExpiresAt != 10 {
		t.Fatalf("ExpiresAt = %d, want 10", d.ExpiresAt)
	}

	// returned records are copies
	d.Amount.SetInt64(1000)
	again, _, _ := s.Get(ctx, dropID(1))
	if again.Amount.Int64() != 1 {
		t.Fatal("Get must return a deep copy")
	}
}

func TestMemoryStore_UpdateDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, sampleDrop(1, 10))
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx Registry) error {
		if err := tx.SetInactive(ctx, dropID(1)); err != nil {
			return err
		}
		if err := tx.Create(ctx, sampleDrop(2, 10)); err != nil {
			return err
		}
		d, _, _ := tx.Get(ctx, dropID(1))
		if d.Active {
			t.Error("staged write should be visible inside the transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() err = %v", err)
	}

	d, _, _ := s.Get(ctx, dropID(1))
	if !d.Active {
		t.Fatal("rolled back tombstone leaked")
	}
	if _, ok, _ := s.Get(ctx, dropID(2)); ok {
		t.Fatal("rolled back create leaked")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryStore_SetInactiveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, sampleDrop(1, 10))

	for i := 0; i < 2; i++ {
		if err := s.SetInactive(ctx, dropID(1)); err != nil {
			t.Fatalf("SetInactive() error = %v", err)
		}
	}
	if err := s.SetInactive(ctx, dropID(404)); err != nil {
		t.Fatalf("SetInactive(absent) error = %v", err)
	}
	if s.Len() != 1 {
		t.Fatal("SetInactive on an absent drop must not create a record")
	}
}

func TestMemoryStore_CountReclaimable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, sampleDrop(1, 10))
	_ = s.Create(ctx, sampleDrop(2, 20))
	_ = s.Create(ctx, sampleDrop(3, 5))
	_ = s.SetInactive(ctx, dropID(3))

	n, err := s.CountReclaimable(ctx, 10)
	if err != nil {
		t.Fatalf("CountReclaimable() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("at expiry = %d, want 0", n)
	}
	n, _ = s.CountReclaimable(ctx, 11)
	if n != 1 {
		t.Fatalf("after first expiry = %d, want 1", n)
	}
}
