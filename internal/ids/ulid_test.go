package ids

import (
	"sync"
	"testing"
	"time"
)

func TestNew_SortsInCallOrder(t *testing.T) {
	const total = 200
	prev := New()
	for i := 1; i < total; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("len(id) = %d, want 26", len(id))
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestNew_ConcurrentUnique(t *testing.T) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := New()
				mu.Lock()
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 400 {
		t.Errorf("got %d unique ids, want 400", len(seen))
	}
}

func TestTime_RoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 14, 15, 9, 26, 535_000_000, time.UTC)
	got, err := Time(NewAt(at))
	if err != nil {
		t.Fatalf("Time failed: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("Time() = %v, want %v", got, at)
	}

	if _, err := Time("not-a-ulid"); err == nil {
		t.Error("expected error for malformed id")
	}
}
