package events

import (
	"context"
	"strings"
	"sync"
)

// JobEvent is a progress report for one publish job, relayed from workers to SSE subscribers.
type JobEvent struct {
	JobID   string         `json:"job_id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	TraceID string         `json:"trace_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

const (
	JobStarted         = "job.started"
	JobPlatformPosted  = "job.platform.posted"
	JobPlatformFailed  = "job.platform.failed"
	JobCompleted       = "job.completed"
	JobCompletedFailed = "job.failed"
)

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan JobEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

// IsTerminalJobEvent reports whether no further events follow for the job.
func IsTerminalJobEvent(eventType string) bool {
	switch NormalizeType(eventType) {
	case JobCompleted, JobCompletedFailed:
		return true
	}
	return false
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan JobEvent]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, jobID string) <-chan JobEvent {
	ch := make(chan JobEvent, 16)

	b.mu.Lock()
	if b.subscribers[jobID] == nil {
		b.subscribers[jobID] = map[chan JobEvent]struct{}{}
	}
	b.subscribers[jobID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[jobID] != nil {
			delete(b.subscribers[jobID], ch)
			if len(b.subscribers[jobID]) == 0 {
				delete(b.subscribers, jobID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (b *Broker) Publish(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broker) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[jobID])
}
