package window

import "testing"

func TestNewRejectsNonPositiveWindow(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for window_seconds=0")
	}
	if _, err := New(-5); err == nil {
		t.Fatal("expected error for negative window_seconds")
	}
}

func TestRetainedEntriesSatisfyWindowBound(t *testing.T) {
	c, err := New(10)
	if err != nil {
		t.Fatal(err)
	}
	for ts := 0.0; ts <= 30; ts++ {
		c.Add(ts, 1)
	}
	if got := c.Count(30); got != 11 {
		t.Fatalf("expected 11 entries in [20,30], got %d", got)
	}
}

func TestSumAndRate(t *testing.T) {
	c, _ := New(5)
	c.Add(0, 2)
	c.Add(1, 3)
	c.Add(2, 5)
	if got := c.Sum(2); got != 10 {
		t.Fatalf("sum = %v, want 10", got)
	}
	if got := c.Rate(2); got != 2 {
		t.Fatalf("rate = %v, want 2", got)
	}
}

func TestWindowOfOneKeepsOnlyMostRecent(t *testing.T) {
	c, _ := New(1)
	c.Add(0, 1)
	c.Add(1, 1)
	if got := c.Count(1); got != 1 {
		t.Fatalf("expected only the most recent entry retained, got count=%d", got)
	}
}

func TestOutOfOrderTimestampInsertedInPosition(t *testing.T) {
	c, _ := New(100)
	c.Add(10, 1)
	c.Add(20, 1)
	c.Add(15, 1)
	if got := c.Count(20); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
}

func TestEmptyAfterPruning(t *testing.T) {
	c, _ := New(5)
	c.Add(0, 1)
	if c.Empty(0) {
		t.Fatal("counter should not be empty immediately after an observation")
	}
	if !c.Empty(10) {
		t.Fatal("counter should be empty once its only entry has aged out")
	}
}
