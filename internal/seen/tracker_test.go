package seen

import (
	"fmt"
	"testing"
)

func TestMarkSeenOnce(t *testing.T) {
	tr, err := New(8, 8)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !tr.IsNew(KindPost, "p1") {
		t.Fatalf("p1 should be new")
	}
	tr.MarkSeen(KindPost, "p1")
	if tr.IsNew(KindPost, "p1") {
		t.Fatalf("p1 should be seen")
	}
	if !tr.IsNew(KindComment, "p1") {
		t.Fatalf("kinds must be tracked separately")
	}
}

func TestVisibleIdsSurviveEviction(t *testing.T) {
	tr, _ := New(4, 4)
	tr.MarkSeen(KindComment, "keep")
	for i := 0; i < 20; i++ {
		// "keep" stays in the fetch window, so each cycle checks it.
		if tr.IsNew(KindComment, "keep") {
			t.Fatalf("keep evicted at step %d", i)
		}
		tr.MarkSeen(KindComment, fmt.Sprintf("c%d", i))
	}
	if tr.Len(KindComment) != 4 {
		t.Fatalf("expected bounded size 4, got %d", tr.Len(KindComment))
	}
	if !tr.IsNew(KindComment, "c0") {
		t.Fatalf("old id should have been evicted")
	}
}

func TestCapacityFloor(t *testing.T) {
	if got := Capacity(10, 25, 4); got != 100 {
		t.Fatalf("expected floor 100, got %d", got)
	}
	if got := Capacity(5000, 150, 4); got != 5000 {
		t.Fatalf("expected 5000, got %d", got)
	}
}

func TestNewRejectsZero(t *testing.T) {
	if _, err := New(0, 10); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}
