package writer

import "testing"

func TestBuffer_SendDrainOrder(t *testing.T) {
	b := NewBuffer[int](4)

	for i := 1; i <= 3; i++ {
		if !b.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	got := b.DrainTo(0)
	if len(got) != 3 {
		t.Fatalf("drained %d items, want 3", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Errorf("item %d = %d, want %d", i, v, i+1)
		}
	}
}

func TestBuffer_DrainToRespectsMax(t *testing.T) {
	b := NewBuffer[int](8)
	for i := 0; i < 5; i++ {
		b.Send(i)
	}

	first := b.DrainTo(2)
	if len(first) != 2 {
		t.Fatalf("first drain = %d items, want 2", len(first))
	}
	rest := b.DrainTo(0)
	if len(rest) != 3 {
		t.Fatalf("second drain = %d items, want 3", len(rest))
	}
	if rest[0] != 2 {
		t.Errorf("second drain starts at %d, want 2", rest[0])
	}
}

func TestBuffer_GrowsPastInitialCapacity(t *testing.T) {
	b := NewBuffer[int](2)

	// Wrap the ring before growing so the copy path is exercised.
	b.Send(0)
	b.Send(1)
	b.DrainTo(1)
	for i := 2; i < 20; i++ {
		b.Send(i)
	}

	if b.Len() != 19 {
		t.Fatalf("Len() = %d, want 19", b.Len())
	}
	got := b.DrainTo(0)
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("item %d = %d, want %d", i, v, i+1)
		}
	}
}

func TestBuffer_CloseStopsSends(t *testing.T) {
	b := NewBuffer[string](2)
	b.Send("kept")
	b.Close()

	if b.Send("dropped") {
		t.Error("Send after Close returned true")
	}
	got := b.DrainTo(0)
	if len(got) != 1 || got[0] != "kept" {
		t.Errorf("DrainTo after Close = %v, want [kept]", got)
	}
}
