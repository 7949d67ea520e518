package ot

import (
	"testing"
	"time"
)

func TestApplyLocalStampsSubmittingClient(t *testing.T) {
	b := NewBuffer("hello", "sess-1")
	op, _ := NewInsert(5, " world", "alice", time.Now())

	content, err := b.ApplyLocal(op)
	if err != nil {
		t.Fatal(err)
	}
	if content != "hello world" {
		t.Fatalf("got %q", content)
	}

	vc := b.VectorClock()
	if vc["alice"] != 1 {
		t.Fatalf("expected alice's clock to be incremented, got %+v", vc)
	}

	hist := b.History()
	if len(hist) != 1 || hist[0].ClientID != "alice" {
		t.Fatalf("expected history entry stamped with alice, got %+v", hist)
	}
}

func TestApplyLocalSeparatesPerUserClocks(t *testing.T) {
	b := NewBuffer("", "sess-1")
	opA, _ := NewInsert(0, "a", "alice", time.Now())
	opB, _ := NewInsert(0, "b", "bob", time.Now())

	if _, err := b.ApplyLocal(opA); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ApplyLocal(opB); err != nil {
		t.Fatal(err)
	}

	vc := b.VectorClock()
	if vc["alice"] != 1 || vc["bob"] != 1 {
		t.Fatalf("expected independent per-client counters, got %+v", vc)
	}
}

func TestHistorySinceReturnsOnlyNewEntries(t *testing.T) {
	b := NewBuffer("", "sess-1")
	op1, _ := NewInsert(0, "a", "alice", time.Now())
	op2, _ := NewInsert(1, "b", "alice", time.Now())

	b.ApplyLocal(op1)
	if got := b.HistorySince(0); len(got) != 1 {
		t.Fatalf("expected 1 entry since 0, got %d", len(got))
	}

	b.ApplyLocal(op2)
	if got := b.HistorySince(1); len(got) != 1 {
		t.Fatalf("expected 1 new entry since 1, got %d", len(got))
	}
	if got := b.HistorySince(2); got != nil {
		t.Fatalf("expected no entries since the end of history, got %v", got)
	}
}

func TestApplyRemoteRejectsTamperedOperation(t *testing.T) {
	b := NewBuffer("hello", "sess-1")
	op, _ := NewInsert(0, "x", "alice", time.Now())
	op.Text = "tampered"

	if _, err := b.ApplyRemote(op); err == nil {
		t.Fatal("expected integrity error for a tampered remote operation")
	}
}
