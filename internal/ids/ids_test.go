package ids

import "testing"

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestNewCorrelationIDUnique(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if a == "" || a == b {
		t.Fatalf("unexpected correlation ids %q %q", a, b)
	}
}
