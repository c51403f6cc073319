package ratelimit

import (
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func clientKeyGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`)
}

func testLimiter_RequestsWithinBurstAllowed(t *rapid.T) {
	config := Config{
		RPS:             100.0,
		Burst:           200,
		CleanupInterval: time.Hour,
	}

	l := NewLimiter(config)
	defer l.Stop()

	key := clientKeyGenerator().Draw(t, "key")
	numRequests := rapid.IntRange(1, 50).Draw(t, "numRequests")

	for i := 0; i < numRequests; i++ {
		if !l.Allow(key) {
			t.Fatalf("request %d of %d should have been allowed (burst %d)", i+1, numRequests, config.Burst)
		}
	}
}

func TestLimiter_RequestsWithinBurstAllowed(t *testing.T) {
	rapid.Check(t, testLimiter_RequestsWithinBurstAllowed)
}

func testLimiter_ExceedingBurstBlocked(t *rapid.T) {
	config := Config{
		RPS:             0.001, // almost no refill during the test
		Burst:           5,
		CleanupInterval: time.Hour,
	}

	l := NewLimiter(config)
	defer l.Stop()

	key := clientKeyGenerator().Draw(t, "key")

	for i := 0; i < config.Burst; i++ {
		if !l.Allow(key) {
			t.Fatalf("request %d within burst should have been allowed", i+1)
		}
	}
	if l.Allow(key) {
		t.Fatalf("request beyond burst of %d should have been blocked", config.Burst)
	}
}

func TestLimiter_ExceedingBurstBlocked(t *testing.T) {
	rapid.Check(t, testLimiter_ExceedingBurstBlocked)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	t.Parallel()
	l := NewLimiter(Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	defer l.Stop()

	for i := 0; i < 2; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("first client request %d blocked", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("first client should be exhausted")
	}

	// A different client has its own bucket.
	if !l.Allow("10.0.0.2") {
		t.Fatal("second client should be unaffected")
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	l := NewLimiter(Config{RPS: 1000, Burst: 10000, CleanupInterval: time.Hour})
	defer l.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := clientKeys[n%len(clientKeys)]
			for j := 0; j < 100; j++ {
				l.Allow(key)
			}
		}(i)
	}
	wg.Wait()

	if got := l.Len(); got != len(clientKeys) {
		t.Errorf("Len() = %d, want %d", got, len(clientKeys))
	}
}

var clientKeys = []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}

// All goroutines hammer one key, so the fast-path lastUsed touch runs
// concurrently for the same entry. Fails under the race detector if that
// touch is a plain write.
func TestLimiter_ConcurrentSameKey(t *testing.T) {
	t.Parallel()
	l := NewLimiter(Config{RPS: 1000, Burst: 10000, CleanupInterval: time.Hour})
	defer l.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.Allow("10.8.8.8")
			}
		}()
	}
	wg.Wait()

	if got := l.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestLimiter_CleanupRemovesIdleClients(t *testing.T) {
	t.Parallel()
	l := NewLimiter(Config{RPS: 1, Burst: 1, CleanupInterval: time.Hour})
	defer l.Stop()

	l.Allow("10.9.9.9")
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}

	// Recent entries survive a cleanup pass.
	l.Cleanup()
	if l.Len() != 1 {
		t.Fatalf("Len() after early Cleanup = %d, want 1", l.Len())
	}

	l.mu.Lock()
	l.limiters["10.9.9.9"].lastUsed.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	l.mu.Unlock()

	l.Cleanup()
	if l.Len() != 0 {
		t.Errorf("Len() after Cleanup = %d, want 0", l.Len())
	}
}
