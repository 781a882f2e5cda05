package buffer

import "testing"

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Items()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items = %v, want %v", got, want)
		}
	}
}

func TestRingLast(t *testing.T) {
	r := NewRing[string](4)
	for _, s := range []string{"a", "b", "c"} {
		r.Push(s)
	}
	got := r.Last(2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("Last(2) = %v", got)
	}
	if got := r.Last(10); len(got) != 3 {
		t.Fatalf("Last(10) = %v", got)
	}
	if got := r.Last(0); got != nil {
		t.Fatalf("Last(0) = %v", got)
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("len after clear = %d", r.Len())
	}
}
