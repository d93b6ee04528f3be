package orders

import "testing"

func TestIdempotencySetCheckAndRecord(t *testing.T) {
	s := newIdempotencySet()
	if s.Check("cmd-1") {
		t.Fatal("unrecorded command should not be seen")
	}
	s.Record("cmd-1")
	if !s.Check("cmd-1") {
		t.Fatal("recorded command should be seen")
	}
}

func TestIdempotencySetEvictsOldestPastCap(t *testing.T) {
	s := newIdempotencySet()
	s.cap = 2
	s.Record("cmd-1")
	s.Record("cmd-2")
	s.Record("cmd-3")

	if s.Check("cmd-1") {
		t.Error("expected cmd-1 to be evicted")
	}
	if !s.Check("cmd-2") || !s.Check("cmd-3") {
		t.Error("expected cmd-2 and cmd-3 to remain")
	}
}
