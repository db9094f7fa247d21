package search

// topKList is a reusable insertion top-K accumulator over streamed
// (index, value) candidates. Values are kept in descending order; on
// equal values the earlier-pushed (lower) index stays ahead, which makes
// every selection in this package deterministic.
type topKList struct {
	k   int
	idx []int
	val []float32
}

func newTopKList(k int) *topKList {
	return &topKList{
		k:   k,
		idx: make([]int, 0, k+1),
		val: make([]float32, 0, k+1),
	}
}

func (t *topKList) reset() {
	t.idx = t.idx[:0]
	t.val = t.val[:0]
}

func (t *topKList) push(index int, v float32) {
	pos := len(t.val)
	for pos > 0 && t.val[pos-1] < v {
		pos--
	}
	if pos >= t.k {
		return
	}
	t.idx = append(t.idx, 0)
	t.val = append(t.val, 0)
	copy(t.idx[pos+1:], t.idx[pos:])
	copy(t.val[pos+1:], t.val[pos:])
	t.idx[pos] = index
	t.val[pos] = v
	if len(t.val) > t.k {
		t.idx = t.idx[:t.k]
		t.val = t.val[:t.k]
	}
}
