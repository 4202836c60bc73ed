package embed

import (
	"sync"
	"testing"
)

func TestNewKeyRing_Empty(t *testing.T) {
	if _, err := NewKeyRing(nil); err != ErrNoKeys {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
}

func TestKeyRing_RotateFrom(t *testing.T) {
	ring, err := NewKeyRing([]string{"k0", "k1", "k2"})
	if err != nil {
		t.Fatal(err)
	}

	key, idx := ring.Current()
	if key != "k0" || idx != 0 {
		t.Fatalf("current = %s/%d", key, idx)
	}

	if !ring.RotateFrom(0) {
		t.Fatal("first rotation should apply")
	}
	if key, _ := ring.Current(); key != "k1" {
		t.Fatalf("after rotation current = %s", key)
	}

	// A second caller that also failed on index 0 must not rotate again.
	if ring.RotateFrom(0) {
		t.Fatal("stale rotation applied")
	}
	if key, _ := ring.Current(); key != "k1" {
		t.Fatalf("stale rotation moved ring to %s", key)
	}
}

func TestKeyRing_Wraps(t *testing.T) {
	ring, _ := NewKeyRing([]string{"a", "b"})
	ring.RotateFrom(0)
	ring.RotateFrom(1)
	if key, idx := ring.Current(); key != "a" || idx != 0 {
		t.Fatalf("ring did not wrap: %s/%d", key, idx)
	}
}

func TestKeyRing_ConcurrentRotation(t *testing.T) {
	ring, _ := NewKeyRing([]string{"a", "b", "c", "d"})
	_, idx := ring.Current()

	var wg sync.WaitGroup
	rotated := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rotated <- ring.RotateFrom(idx)
		}()
	}
	wg.Wait()
	close(rotated)

	applied := 0
	for ok := range rotated {
		if ok {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied rotation, got %d", applied)
	}
	if _, cur := ring.Current(); cur != 1 {
		t.Fatalf("current index = %d, want 1", cur)
	}
}
