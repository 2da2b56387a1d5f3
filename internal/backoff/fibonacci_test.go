package backoff

import "testing"

func TestFibonacciSequence(t *testing.T) {
	want := []int{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 29, 24, 53, 17, 10, 27}

	f := New()
	for i, w := range want {
		got := int(f.Next().Seconds())
		if got != w {
			t.Fatalf("element %d = %d, want %d (sequence so far correct up to previous)", i, got, w)
		}
	}
}

func TestFibonacciReset(t *testing.T) {
	f := New()
	f.Next()
	f.Next()
	f.Next()
	f.Reset()
	if got := int(f.Next().Seconds()); got != 1 {
		t.Errorf("after Reset, Next() = %d, want 1", got)
	}
}
