package ranker

import "container/heap"

func topK(scored []Scored, k int) []Scored {
	h := &scoredHeap{}
	heap.Init(h)
	for _, s := range scored {
		heap.Push(h, s)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	result := make([]Scored, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Scored)
	}
	return result
}

// scoredHeap is a min-heap under the result order: the root is the entry
// that would be ranked last.
type scoredHeap []Scored

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool { return before(h[j], h[i]) }

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x interface{}) {
	*h = append(*h, x.(Scored))
}

func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
