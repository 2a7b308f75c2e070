package pipeline

// eventHeap orders events by priority descending, then submission sequence
// ascending, so a pop always yields the oldest event of the highest waiting
// priority. It implements container/heap.Interface; the Pipeline serializes
// access under its own mutex.
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = Event{}
	*h = old[:n-1]
	return ev
}
