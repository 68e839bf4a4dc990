package admission

import (
	"testing"
	"time"
)

func TestKeyedLimiterEvictsIdleBuckets(t *testing.T) {
	l := newKeyedLimiter(1, 1, time.Minute)
	t0 := time.Unix(1_700_000_000, 0)

	if !l.Allow("a", t0) {
		t.Fatal("first token should be allowed")
	}
	if l.Allow("a", t0) {
		t.Fatal("burst of one should deny the second token")
	}
	if !l.Allow("b", t0) {
		t.Fatal("keys must not share buckets")
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	l.Allow("c", t0.Add(2*time.Minute))
	if got := l.Len(); got != 1 {
		t.Fatalf("idle buckets not evicted, Len() = %d", got)
	}
}
