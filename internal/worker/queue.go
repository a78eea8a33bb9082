package worker

import (
	"sync"

	"github.com/cityrollup/rollup/internal/dag"
)

// JobQueue is an in-memory, per-topic FIFO of ready-to-run job ids. A
// concrete deployment could swap this for a Redis-backed transport; tests
// and single-process operation use this implementation directly (the Redis
// queue transport itself is out of scope).
type JobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	lanes  map[dag.Topic][]dag.JobID
	closed bool
}

// NewJobQueue builds an empty job queue.
func NewJobQueue() *JobQueue {
	q := &JobQueue{lanes: make(map[dag.Topic][]dag.JobID)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue pushes jobID onto its topic's lane and wakes every waiting popper.
func (q *JobQueue) Enqueue(jobID dag.JobID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lanes[jobID.Topic] = append(q.lanes[jobID.Topic], jobID)
	q.cond.Broadcast()
}

// Pop blocks until a job id is available on topic, or the queue is closed
// (in which case it returns false).
func (q *JobQueue) Pop(topic dag.Topic) (dag.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.lanes[topic]) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.lanes[topic]) == 0 {
		return dag.JobID{}, false
	}
	job := q.lanes[topic][0]
	q.lanes[topic] = q.lanes[topic][1:]
	return job, true
}

// TryPop returns immediately: a job id and true if one was ready on topic,
// or false if the lane was empty. Used by tests and single-shot drivers
// that don't want to block.
func (q *JobQueue) TryPop(topic dag.Topic) (dag.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lanes[topic]) == 0 {
		return dag.JobID{}, false
	}
	job := q.lanes[topic][0]
	q.lanes[topic] = q.lanes[topic][1:]
	return job, true
}

// Depth returns the current queue length for topic.
func (q *JobQueue) Depth(topic dag.Topic) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[topic])
}

// Close unblocks every pending Pop, signalling no further jobs will arrive.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
