// Package contingency stores signed fiscal documents that could not be sent
// to the authority. Memory is process-local; Postgres and Redis survive a
// restart and are the options for production.
package contingency

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
)

// Memory is a mutex-guarded FIFO queue.
type Memory struct {
	mu      sync.Mutex
	records []domain.ContingencyRecord
	now     func() time.Time
}

// NewMemory creates an empty queue. now defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now}
}

func (q *Memory) Enqueue(_ context.Context, reference, payload string, reason *string) (domain.ContingencyRecord, error) {
	record := domain.ContingencyRecord{
		Reference: reference,
		Payload:   payload,
		CreatedAt: q.now().UTC(),
		Reason:    reason,
	}

	q.mu.Lock()
	q.records = append(q.records, record)
	q.mu.Unlock()

	return record, nil
}

func (q *Memory) Pending(_ context.Context) ([]domain.ContingencyRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.ContingencyRecord, len(q.records))
	copy(out, q.records)
	return out, nil
}

func (q *Memory) Flush(_ context.Context) ([]domain.ContingencyRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.records
	q.records = nil
	if out == nil {
		out = []domain.ContingencyRecord{}
	}
	return out, nil
}

// Remove drops the oldest record with reference.
func (q *Memory) Remove(_ context.Context, reference string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.records {
		if r.Reference == reference {
			q.records = append(q.records[:i:i], q.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *Memory) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records), nil
}
