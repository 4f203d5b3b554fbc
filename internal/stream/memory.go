package stream

import (
	"context"
	"maps"
	"sync"
)

// MemoryLog keeps events in process, one ordered slice per partition.
type MemoryLog struct {
	mu         sync.Mutex
	partitions map[string][]Event
	appends    int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{partitions: make(map[string][]Event)}
}

func (l *MemoryLog) Append(ctx context.Context, partition string, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event.Properties = maps.Clone(event.Properties)

	l.mu.Lock()
	l.partitions[partition] = append(l.partitions[partition], event)
	l.appends++
	l.mu.Unlock()
	return nil
}

// Partition returns a copy of the events appended under partition, in order.
func (l *MemoryLog) Partition(partition string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.partitions[partition]...)
}

// Len is the total number of appends across partitions.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appends
}
