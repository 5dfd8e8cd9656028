package orchestrator

import (
	"testing"
	"time"
)

func TestLockMap_SerializesSameID(t *testing.T) {
	lm := newLockMap()

	unlock := lm.lock("sess-1")

	acquired := make(chan struct{})
	go func() {
		second := lm.lock("sess-1")
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestLockMap_IndependentIDs(t *testing.T) {
	lm := newLockMap()

	unlockA := lm.lock("a")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlockB := lm.lock("b")
		close(acquired)
		unlockB()
	}()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated id blocked")
	}
}

func TestLockMap_CleansUpReleasedEntries(t *testing.T) {
	lm := newLockMap()

	unlockA := lm.lock("a")
	unlockB := lm.lock("b")
	if lm.size() != 2 {
		t.Errorf("expected 2 live entries, got %d", lm.size())
	}

	unlockA()
	unlockB()
	if lm.size() != 0 {
		t.Errorf("expected 0 entries after release, got %d", lm.size())
	}

	// Reacquiring after cleanup works
	unlock := lm.lock("a")
	unlock()
}
