package util

import (
	"fmt"
	"testing"
)

func TestValidateName(t *testing.T) {
	if got, err := ValidateName("  lounge "); err != nil || got != "lounge" {
		t.Fatalf("ValidateName = %q, %v", got, err)
	}
	for _, bad := range []string{"", "   ", "a b", "a/b", "a\\b", "a\tb", "a..b"} {
		if _, err := ValidateName(bad); err == nil {
			t.Errorf("ValidateName(%q) accepted", bad)
		}
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}
	got := rb.Snapshot()
	want := []int{3, 4, 5}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
	if rb.Len() != 3 {
		t.Fatalf("Len = %d, want 3", rb.Len())
	}
}

func TestRingBufferAny(t *testing.T) {
	rb := NewRingBuffer[string](2)
	rb.Push("a")
	rb.Push("b")
	rb.Push("c") // evicts "a"

	if rb.Any(func(s string) bool { return s == "a" }) {
		t.Fatal("evicted element still matched")
	}
	if !rb.Any(func(s string) bool { return s == "c" }) {
		t.Fatal("present element not matched")
	}
}
