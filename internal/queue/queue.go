// Package queue provides the bounded candidate heap index collaborators
// use to select top-k results.
package queue

// Item is a scored candidate. Seq is the slot's insertion sequence and
// pins the order of equal-score candidates.
type Item struct {
	Slot  uint32
	Score float32
	Seq   uint64
}

// better reports whether a outranks b: higher score wins, equal scores go
// to the earlier insertion.
func better(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}

// TopK keeps the k best-ranked items offered to it. The heap root is the
// worst kept item, so a full queue accepts a new item only when it
// outranks the root. Value-based storage, zero allocations per Offer.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a queue that retains at most k items.
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	hint := k
	if hint > 1024 {
		hint = 1024
	}
	return &TopK{k: k, items: make([]Item, 0, hint)}
}

// Len returns the number of kept items.
func (q *TopK) Len() int {
	return len(q.items)
}

// Offer considers item for the kept set.
func (q *TopK) Offer(item Item) {
	if q.k == 0 {
		return
	}
	if len(q.items) < q.k {
		q.items = append(q.items, item)
		q.siftUp(len(q.items) - 1)
		return
	}
	if !better(item, q.items[0]) {
		return
	}
	q.items[0] = item
	q.siftDown(0)
}

// Ranked drains the queue and returns the kept items best-first.
func (q *TopK) Ranked() []Item {
	out := make([]Item, len(q.items))
	for i := len(q.items) - 1; i >= 0; i-- {
		out[i] = q.pop()
	}
	return out
}

// pop removes and returns the worst kept item.
func (q *TopK) pop() Item {
	n := len(q.items)
	root := q.items[0]
	last := q.items[n-1]
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root
}

// worse orders the heap: the root is the item every other kept item
// outranks.
func (q *TopK) worse(i, j int) bool {
	return better(q.items[j], q.items[i])
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.worse(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		worst := l
		if r := l + 1; r < n && q.worse(r, l) {
			worst = r
		}
		if !q.worse(worst, i) {
			return
		}
		q.items[i], q.items[worst] = q.items[worst], q.items[i]
		i = worst
	}
}
