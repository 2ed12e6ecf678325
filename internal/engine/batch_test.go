package engine

import (
	"testing"
)

func TestBatch(t *testing.T) {
	t.Run("AddSequence", func(t *testing.T) {
		batch := NewBatch(16)

		start := batch.AddSequence([]int32{101, 2001, 102}, 0)
		if start != 0 {
			t.Errorf("First sequence start = %d, want 0", start)
		}

		start = batch.AddSequence([]int32{101, 102}, 1)
		if start != 3 {
			t.Errorf("Second sequence start = %d, want 3", start)
		}

		if batch.Len() != 5 {
			t.Errorf("Len = %d, want 5", batch.Len())
		}
		if batch.SeqCount() != 2 {
			t.Errorf("SeqCount = %d, want 2", batch.SeqCount())
		}

		wantPos := []int32{0, 1, 2, 0, 1}
		wantSeq := []int{0, 0, 0, 1, 1}
		for i := range wantPos {
			if batch.Positions[i] != wantPos[i] {
				t.Errorf("Positions[%d] = %d, want %d", i, batch.Positions[i], wantPos[i])
			}
			if batch.Sequences[i] != wantSeq[i] {
				t.Errorf("Sequences[%d] = %d, want %d", i, batch.Sequences[i], wantSeq[i])
			}
			if batch.Outputs[i] {
				t.Errorf("Outputs[%d] set before any MarkOutput call", i)
			}
		}
	})

	t.Run("MarkOutput", func(t *testing.T) {
		batch := NewBatch(8)
		batch.AddSequence([]int32{101, 2001, 102}, 0)

		batch.MarkOutput(2)
		if !batch.Outputs[2] {
			t.Error("Outputs[2] not set after MarkOutput")
		}
		if batch.Outputs[0] || batch.Outputs[1] {
			t.Error("MarkOutput touched other slots")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		batch := NewBatch(8)
		batch.AddSequence([]int32{101, 102}, 0)
		batch.MarkOutput(1)

		batch.Clear()
		if batch.Len() != 0 {
			t.Errorf("Len after Clear = %d, want 0", batch.Len())
		}
		if batch.SeqCount() != 0 {
			t.Errorf("SeqCount after Clear = %d, want 0", batch.SeqCount())
		}
		if batch.Capacity() != 8 {
			t.Errorf("Capacity after Clear = %d, want 8", batch.Capacity())
		}

		// Reused buffer starts fresh
		batch.AddSequence([]int32{101, 3000, 102}, 0)
		if batch.Outputs[1] {
			t.Error("Output flag survived Clear")
		}
	})
}
