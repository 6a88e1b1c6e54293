package scheduler

// entryHeap is a container/heap.Interface over *Entry ordered by
// NextFireTime, letting the engine always pop the soonest-due entry in
// O(log n).
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	return h[i].NextFireTime.Before(h[j].NextFireTime)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap) Push(x any) {
	entry := x.(*Entry)
	entry.heapIndex = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	entry.heapIndex = -1
	return entry
}
