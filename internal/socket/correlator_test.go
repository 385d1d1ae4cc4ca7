package socket

import "testing"

func TestCorrelator(t *testing.T) {
	c := NewCorrelator()
	if _, ok := c.Current(); ok {
		t.Fatal("new correlator should be empty")
	}

	c.Begin("r1")
	c.Begin("r2")
	cur, ok := c.Current()
	if !ok || cur.RequestID != "r2" {
		t.Fatalf("Current() = %+v, %v; want r2", cur, ok)
	}
	if cur.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if c.Matches("r1") || !c.Matches("r2") || c.Matches("") {
		t.Error("Matches reported wrong result")
	}

	id, ok := c.Take()
	if !ok || id != "r2" {
		t.Errorf("Take() = %q, %v", id, ok)
	}
	if _, ok := c.Take(); ok {
		t.Error("Take should clear the request")
	}

	c.Begin("r3")
	c.Clear()
	if _, ok := c.Current(); ok {
		t.Error("Clear should forget the request")
	}
}
