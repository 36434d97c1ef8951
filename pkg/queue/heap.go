package queue

import "container/heap"

// commandHeap orders commands by (priority, enqueue_time): lower priority
// value first, earlier enqueue first within a priority. Implements
// container/heap; callers hold the queue lock.
type commandHeap []*Command

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueueTime.Before(h[j].EnqueueTime)
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) {
	*h = append(*h, x.(*Command))
}

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	cmd := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return cmd
}

// removeAt deletes the element at index i, restoring heap order.
func (h *commandHeap) removeAt(i int) *Command {
	return heap.Remove(h, i).(*Command)
}
