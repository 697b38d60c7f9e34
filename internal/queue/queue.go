package queue

import (
	"fmt"
	"sync"
	"time"

	"mailroom/internal/record"
)

// Queue is the shared ordered store of records. Insertion order is
// delivery order; one coarse mutex mediates every access, so Append,
// TakeFirst and the replay snapshot are linearizable with each other.
type Queue struct {
	mu       sync.Mutex
	records  []record.Record
	appended uint64
	taken    uint64
}

// Stats summarizes queue state at one instant.
type Stats struct {
	Depth    int
	Appended uint64
	Taken    uint64
}

func New() *Queue {
	return &Queue{}
}

// Append adds a record at the tail. Malformed records are refused
// before they reach the store.
func (q *Queue) Append(rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, rec)
	q.appended++
	return nil
}

// TakeFirst removes and returns the head record. The second result is
// false when the queue is empty; that is an ordinary outcome, not a
// fault. Each record is handed to exactly one caller.
func (q *Queue) TakeFirst() (record.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return record.Record{}, false
	}
	head := q.records[0]
	q.records = q.records[1:]
	q.taken++
	return head, true
}

// Snapshot returns a point-in-time copy of the stored records in
// insertion order.
func (q *Queue) Snapshot() []record.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]record.Record(nil), q.records...)
}

// Len reports the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Stats reports depth and lifetime counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Depth: len(q.records), Appended: q.appended, Taken: q.taken}
}

// Replay scans a snapshot of the queue without consuming anything and
// returns the matching records in insertion order. Zero values mean the
// filter is absent; with neither filter there is nothing to replay.
//
// Per record the timestamp filter is checked first: createdAt at or
// after startTime includes the record and the scan continues. Only when
// that check did not match is the identifier compared, and an id match
// includes the record and stops the scan. Ids are unique, so the
// identifier mode yields at most one record.
func (q *Queue) Replay(startTime time.Time, startID string) []record.Record {
	if startTime.IsZero() && startID == "" {
		return nil
	}
	var out []record.Record
	for _, rec := range q.Snapshot() {
		switch {
		case !startTime.IsZero() && !rec.CreatedAt.Before(startTime):
			out = append(out, rec)
		case startID != "" && rec.ID == startID:
			out = append(out, rec)
			return out
		}
	}
	return out
}
