package queue

import "testing"

func TestTopKRanked(t *testing.T) {
	q := NewTopK(3)
	for i, score := range []float32{0.1, 0.9, 0.5, 0.7, 0.3} {
		q.Offer(Item{Slot: uint32(i), Score: score, Seq: uint64(i)})
	}

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	ranked := q.Ranked()
	wantSlots := []uint32{1, 3, 2}
	for i, item := range ranked {
		if item.Slot != wantSlots[i] {
			t.Fatalf("ranked[%d].Slot = %d, want %d", i, item.Slot, wantSlots[i])
		}
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Fatalf("scores not descending at %d: %v", i, ranked)
		}
	}
}

func TestTopKTieOrder(t *testing.T) {
	q := NewTopK(4)
	// Equal scores must come out in insertion-sequence order.
	q.Offer(Item{Slot: 7, Score: 0.5, Seq: 3})
	q.Offer(Item{Slot: 8, Score: 0.5, Seq: 1})
	q.Offer(Item{Slot: 9, Score: 0.5, Seq: 2})

	ranked := q.Ranked()
	wantSeq := []uint64{1, 2, 3}
	for i, item := range ranked {
		if item.Seq != wantSeq[i] {
			t.Fatalf("ranked[%d].Seq = %d, want %d", i, item.Seq, wantSeq[i])
		}
	}
}

func TestTopKTieEviction(t *testing.T) {
	q := NewTopK(2)
	q.Offer(Item{Slot: 0, Score: 0.5, Seq: 1})
	q.Offer(Item{Slot: 1, Score: 0.5, Seq: 2})
	// Same score, later insertion: must not displace either kept item.
	q.Offer(Item{Slot: 2, Score: 0.5, Seq: 3})

	ranked := q.Ranked()
	if len(ranked) != 2 || ranked[0].Seq != 1 || ranked[1].Seq != 2 {
		t.Fatalf("unexpected ranked set: %v", ranked)
	}

	q = NewTopK(2)
	q.Offer(Item{Slot: 0, Score: 0.5, Seq: 2})
	q.Offer(Item{Slot: 1, Score: 0.5, Seq: 3})
	// Same score, earlier insertion: displaces the latest kept item.
	q.Offer(Item{Slot: 2, Score: 0.5, Seq: 1})

	ranked = q.Ranked()
	if len(ranked) != 2 || ranked[0].Seq != 1 || ranked[1].Seq != 2 {
		t.Fatalf("unexpected ranked set after eviction: %v", ranked)
	}
}

func TestTopKSmallerThanK(t *testing.T) {
	q := NewTopK(10)
	q.Offer(Item{Slot: 0, Score: 0.2, Seq: 1})
	q.Offer(Item{Slot: 1, Score: 0.8, Seq: 2})

	ranked := q.Ranked()
	if len(ranked) != 2 {
		t.Fatalf("len = %d, want 2", len(ranked))
	}
	if ranked[0].Slot != 1 || ranked[1].Slot != 0 {
		t.Fatalf("unexpected order: %v", ranked)
	}
}

func TestTopKZero(t *testing.T) {
	q := NewTopK(0)
	q.Offer(Item{Slot: 0, Score: 1})
	if q.Len() != 0 || len(q.Ranked()) != 0 {
		t.Fatal("zero-k queue kept items")
	}
}
