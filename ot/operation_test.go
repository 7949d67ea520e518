package ot

import (
	"testing"
	"time"
)

func TestInsertRejectsEmptyText(t *testing.T) {
	if _, err := NewInsert(0, "", "alice", time.Now()); err == nil {
		t.Fatal("expected error for empty insert text")
	}
}

func TestDeleteRejectsNonPositiveLength(t *testing.T) {
	if _, err := NewDelete(0, 0, "alice", time.Now()); err == nil {
		t.Fatal("expected error for zero-length delete")
	}
}

func TestVerifyDetectsTamperedOperation(t *testing.T) {
	op, err := NewInsert(0, "hi", "alice", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !op.Verify() {
		t.Fatal("freshly constructed operation should verify")
	}
	op.Text = "bye"
	if op.Verify() {
		t.Fatal("tampered operation should fail verification")
	}
}

func TestApplyInsertAndDelete(t *testing.T) {
	ins, _ := NewInsert(5, " world", "alice", time.Now())
	out, err := Apply("hello", ins)
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello world" {
		t.Fatalf("got %q", out)
	}

	del, _ := NewDelete(5, 6, "alice", time.Now())
	out2, err := Apply(out, del)
	if err != nil {
		t.Fatal(err)
	}
	if out2 != "hello" {
		t.Fatalf("got %q", out2)
	}
}

func TestApplyRejectsTamperedChecksum(t *testing.T) {
	ins, _ := NewInsert(0, "x", "alice", time.Now())
	ins.Position = 99
	if _, err := Apply("hello", ins); err == nil {
		t.Fatal("expected integrity error for tampered position")
	}
}

func TestApplyClampsOutOfRangePositions(t *testing.T) {
	ins, _ := NewInsert(1000, "!", "alice", time.Now())
	out, err := Apply("hi", ins)
	if err != nil {
		t.Fatal(err)
	}
	if out != "hi!" {
		t.Fatalf("expected clamped insert at end, got %q", out)
	}
}

func TestDiffToOpsNoChange(t *testing.T) {
	if ops := DiffToOps("same", "same", "alice", time.Now()); ops != nil {
		t.Fatalf("expected nil ops for identical content, got %v", ops)
	}
}

func TestDiffToOpsInsertOnly(t *testing.T) {
	ops := DiffToOps("hello", "hello world", "alice", time.Now())
	if len(ops) != 1 || ops[0].Kind != Insert {
		t.Fatalf("expected single insert op, got %+v", ops)
	}
	out, err := Apply("hello", ops[0])
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestDiffToOpsReplaceMiddle(t *testing.T) {
	ops := DiffToOps("the cat sat", "the dog sat", "alice", time.Now())
	result, err := ApplyBatch("the cat sat", ops)
	if err != nil {
		t.Fatal(err)
	}
	if result != "the dog sat" {
		t.Fatalf("got %q", result)
	}
}

func TestTransformPositionAcrossInsert(t *testing.T) {
	ins, _ := NewInsert(3, "XYZ", "bob", time.Now())
	if got := TransformPosition(5, ins); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
	if got := TransformPosition(1, ins); got != 1 {
		t.Fatalf("position before insert should be unaffected, got %d", got)
	}
}

func TestTransformPositionAcrossDelete(t *testing.T) {
	del, _ := NewDelete(2, 3, "bob", time.Now())
	if got := TransformPosition(10, del); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := TransformPosition(3, del); got != 2 {
		t.Fatalf("position inside deleted range collapses to start, got %d", got)
	}
}
