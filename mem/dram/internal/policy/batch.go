package policy

// Batch implements parallelism-aware batch scheduling. It marks the first
// requests of the queue as the current batch and ranks threads by the number
// of requests they have outstanding.
type Batch struct {
	enabled    bool
	windowSize int
	last       int
	perThread  []int
}

// NewBatch creates a batch tracker. A disabled tracker keeps every thread at
// the same rank and never forms a batch.
func NewBatch(enabled bool, windowSize, numThreads int) *Batch {
	return &Batch{
		enabled:    enabled,
		windowSize: windowSize,
		last:       -1,
		perThread:  make([]int, numThreads),
	}
}

// Enabled returns true if batching is active.
func (b *Batch) Enabled() bool {
	return b.enabled
}

// Last returns the queue index of the last request of the batch, or -1 if no
// batch is formed.
func (b *Batch) Last() int {
	return b.last
}

// Outstanding returns the number of queued requests of a thread.
func (b *Batch) Outstanding(thread int) int {
	return b.perThread[thread]
}

// Admit counts a request entering the queue.
func (b *Batch) Admit(thread int) {
	if b.enabled {
		b.perThread[thread]++
	}
}

func (b *Batch) clamp(last int) int {
	if last > b.windowSize-1 {
		return b.windowSize - 1
	}

	return last
}

// Form starts a new batch over the queue if none is active.
func (b *Batch) Form(queueLen int) {
	if b.enabled && b.last == -1 && queueLen > 0 {
		b.last = b.clamp(queueLen - 1)
	}
}

// Served updates the batch after the request at index i, from thread, left
// a queue that held queueLen requests.
func (b *Batch) Served(i, thread, queueLen int) {
	if !b.enabled {
		return
	}

	b.perThread[thread]--

	switch {
	case b.last == i && i == 0:
		b.last = b.clamp(queueLen - 2)
	case b.last >= i:
		b.last--
	}
}
