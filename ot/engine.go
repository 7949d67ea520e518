package ot

import (
	"sort"
	"time"

	"realtimeedit/go-server/apperr"
)

// Apply executes op against text, returning the resulting text. Positions
// are code-point (rune) offsets, clamped into range. Retain is identity.
func Apply(text string, op Operation) (string, error) {
	if !op.Verify() {
		return "", apperr.New(apperr.Integrity, "operation checksum mismatch: "+op.OpID)
	}

	runes := []rune(text)
	n := len(runes)

	switch op.Kind {
	case Insert:
		pos := clamp(op.Position, 0, n)
		out := make([]rune, 0, n+len([]rune(op.Text)))
		out = append(out, runes[:pos]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[pos:]...)
		return string(out), nil

	case Delete:
		start := clamp(op.Position, 0, n)
		end := clamp(op.Position+op.Length, start, n)
		out := make([]rune, 0, n-(end-start))
		out = append(out, runes[:start]...)
		out = append(out, runes[end:]...)
		return string(out), nil

	default: // Retain
		return text, nil
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyBatch sorts ops by (timestamp, kind-priority, client_id) and applies
// them in order with a running position offset. Intended for causally
// ordered, non-concurrent batches (e.g. history replay); concurrent
// operations must go through Transform first.
func ApplyBatch(text string, ops []Operation) (string, error) {
	sorted := make([]Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Kind.priority() != b.Kind.priority() {
			return a.Kind.priority() < b.Kind.priority()
		}
		return a.ClientID < b.ClientID
	})

	result := text
	offset := 0
	for _, op := range sorted {
		if !op.Verify() {
			return "", apperr.New(apperr.Integrity, "operation checksum mismatch: "+op.OpID)
		}
		adjusted := op
		adjusted.Position = op.Position + offset
		adjusted.OpID = op.OpID
		adjusted.Checksum = adjusted.generateChecksum()

		var err error
		result, err = Apply(result, adjusted)
		if err != nil {
			return "", err
		}

		switch op.Kind {
		case Insert:
			offset += len([]rune(op.Text))
		case Delete:
			offset -= op.Length
		}
	}
	return result, nil
}

// TransformPosition maps a cursor position across op.
func TransformPosition(pos int, op Operation) int {
	switch op.Kind {
	case Insert:
		if pos >= op.Position {
			return pos + len([]rune(op.Text))
		}
	case Delete:
		end := op.Position + op.Length
		if pos > end {
			return pos - op.Length
		}
		if pos > op.Position {
			return op.Position
		}
	}
	return pos
}

// priorityWinner returns "a" or "b" per the §4.3 tiebreak rule: vector
// clock causality first, then lexicographic client_id, then earlier
// timestamp.
func priorityWinner(a, b Operation) string {
	switch a.VC.Cmp(b.VC) {
	case Before:
		return "a"
	case After:
		return "b"
	}
	if a.ClientID < b.ClientID {
		return "a"
	}
	if a.ClientID > b.ClientID {
		return "b"
	}
	if a.Timestamp <= b.Timestamp {
		return "a"
	}
	return "b"
}

// TransformPair is the inclusion-transformation kernel: rewrites a and b so
// that applying a after b is equivalent to applying b after a. Each
// type-specific helper below branches on relative position itself (both
// the overlapping and the merely-adjacent cases), so no separate conflict
// pre-check is needed or correct here: a zero-width Insert never
// "overlaps" a neighboring Delete by range, yet still shifts its position.
func TransformPair(a, b Operation) (Operation, Operation) {
	if a.ClientID == b.ClientID || a.Kind == Retain || b.Kind == Retain {
		return a, b
	}

	var aPrime, bPrime Operation
	switch {
	case a.Kind == Insert && b.Kind == Insert:
		aPrime, bPrime = transformInsertInsert(a, b, priorityWinner(a, b))
	case a.Kind == Insert && b.Kind == Delete:
		aPrime, bPrime = transformInsertDelete(a, b)
	case a.Kind == Delete && b.Kind == Insert:
		bPrime, aPrime = transformInsertDelete(b, a)
	case a.Kind == Delete && b.Kind == Delete:
		aPrime, bPrime = transformDeleteDelete(a, b)
	default:
		return a, b
	}

	// Transformed ops carry a checksum over their new content fields; an
	// input that already failed verification stays unverifiable.
	if a.Verify() {
		aPrime.Checksum = aPrime.generateChecksum()
	}
	if b.Verify() {
		bPrime.Checksum = bPrime.generateChecksum()
	}
	return aPrime, bPrime
}

func transformInsertInsert(a, b Operation, winner string) (Operation, Operation) {
	switch {
	case a.Position < b.Position:
		bPrime := b
		bPrime.Position += len([]rune(a.Text))
		return a, bPrime
	case a.Position > b.Position:
		aPrime := a
		aPrime.Position += len([]rune(b.Text))
		return aPrime, b
	default:
		if winner == "a" {
			bPrime := b
			bPrime.Position += len([]rune(a.Text))
			return a, bPrime
		}
		aPrime := a
		aPrime.Position += len([]rune(b.Text))
		return aPrime, b
	}
}

func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	delStart := del.Position
	delEnd := del.Position + del.Length

	switch {
	case ins.Position <= delStart:
		delPrime := del
		delPrime.Position += len([]rune(ins.Text))
		return ins, delPrime

	case ins.Position >= delEnd:
		insPrime := ins
		insPrime.Position -= del.Length
		return insPrime, del

	default:
		insPrime := ins
		insPrime.Position = delStart
		delPrime := del
		delPrime.Position += len([]rune(ins.Text))
		return insPrime, delPrime
	}
}

func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	aStart, aEnd := a.Position, a.Position+a.Length
	bStart, bEnd := b.Position, b.Position+b.Length

	overlapStart := max(aStart, bStart)
	overlapEnd := min(aEnd, bEnd)
	overlap := max(0, overlapEnd-overlapStart)

	var aPrime Operation
	switch {
	case bEnd <= aStart:
		aPrime = a
		aPrime.Position -= b.Length
	case bStart >= aEnd:
		aPrime = a
	default:
		newLength := a.Length - overlap
		if newLength <= 0 {
			aPrime = newRetain(min(aStart, bStart), a.ClientID, time.Time{})
			aPrime.VC = a.VC
			aPrime.Timestamp = a.Timestamp
			aPrime.OpID = a.OpID
		} else {
			aPrime = a
			aPrime.Position = min(aStart, bStart)
			aPrime.Length = newLength
		}
	}

	var bPrime Operation
	switch {
	case aEnd <= bStart:
		bPrime = b
		bPrime.Position -= a.Length
	case aStart >= bEnd:
		bPrime = b
	default:
		newLength := b.Length - overlap
		if newLength <= 0 {
			bPrime = newRetain(min(aStart, bStart), b.ClientID, time.Time{})
			bPrime.VC = b.VC
			bPrime.Timestamp = b.Timestamp
			bPrime.OpID = b.OpID
		} else {
			bPrime = b
			bPrime.Position = min(aStart, bStart)
			bPrime.Length = newLength
		}
	}

	return aPrime, bPrime
}

// Transform composes two sequences of concurrent operations: the returned
// (opsA', opsB') satisfy apply(opsA' after opsB) == apply(opsB' after opsA).
func Transform(opsA, opsB []Operation) ([]Operation, []Operation) {
	if len(opsA) == 0 || len(opsB) == 0 {
		return opsA, opsB
	}

	outA := make([]Operation, len(opsA))
	for i, a := range opsA {
		current := a
		for _, b := range opsB {
			current, _ = TransformPair(current, b)
		}
		outA[i] = current
	}

	outB := make([]Operation, len(opsB))
	for i, b := range opsB {
		current := b
		for _, a := range opsA {
			_, current = TransformPair(a, current)
		}
		outB[i] = current
	}

	return outA, outB
}

// DiffToOps finds the longest common prefix/suffix of old and new and
// returns at most one Delete followed by at most one Insert describing the
// difference, for use when a client ships a whole-document snapshot.
func DiffToOps(old, new string, clientID string, ts time.Time) []Operation {
	if old == new {
		return nil
	}

	oldR := []rune(old)
	newR := []rune(new)
	minLen := len(oldR)
	if len(newR) < minLen {
		minLen = len(newR)
	}

	prefix := 0
	for prefix < minLen && oldR[prefix] == newR[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < minLen-prefix && oldR[len(oldR)-1-suffix] == newR[len(newR)-1-suffix] {
		suffix++
	}

	oldMiddle := string(oldR[prefix : len(oldR)-suffix])
	newMiddle := string(newR[prefix : len(newR)-suffix])

	var ops []Operation
	if oldMiddle != "" {
		d, _ := NewDelete(prefix, len([]rune(oldMiddle)), clientID, ts)
		ops = append(ops, d)
	}
	if newMiddle != "" {
		i, _ := NewInsert(prefix, newMiddle, clientID, ts)
		ops = append(ops, i)
	}
	return ops
}
