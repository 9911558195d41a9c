package events

import (
	"context"
	"fmt"
	"sync"
)

const (
	TypeProgress  = "progress"
	TypeCompleted = "completed"
	TypeFailed    = "failed"

	CompletedMessage = "Workflow completed"
	FailedMessage    = "Workflow failed"
)

// Event is one entry of a drafting run's progress stream.
type Event struct {
	Seq     int64                         `json:"seq"`
	Type    string                        `json:"type"`
	Message string                        `json:"message"`
	Result  map[string]string             `json:"result,omitempty"`
	Handles map[string]map[string]*string `json:"handles,omitempty"`
	Error   string                        `json:"error,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Type == TypeCompleted || e.Type == TypeFailed
}

// Stream delivers events to a single consumer in emission order. Producers
// never block. Exactly one terminal event is accepted; the channel returned
// by Events closes right after it, or when the stream's context ends.
type Stream struct {
	ctx    context.Context
	out    chan Event
	wake   chan struct{}
	mu     sync.Mutex
	queue  []Event
	seq    int64
	sealed bool
	done   chan struct{}
}

func NewStream(ctx context.Context) *Stream {
	s := &Stream{
		ctx:  ctx,
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream) Events() <-chan Event {
	return s.out
}

// Done closes once the consumer channel has been closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Emit(message string) bool {
	return s.push(Event{Type: TypeProgress, Message: message})
}

func (s *Stream) Emitf(format string, args ...any) bool {
	return s.Emit(fmt.Sprintf(format, args...))
}

func (s *Stream) Complete(result map[string]string, handles map[string]map[string]*string) bool {
	return s.push(Event{Type: TypeCompleted, Message: CompletedMessage, Result: result, Handles: handles})
}

func (s *Stream) Fail(err error) bool {
	ev := Event{Type: TypeFailed, Message: FailedMessage}
	if err != nil {
		ev.Error = err.Error()
	}
	return s.push(ev)
}

func (s *Stream) push(ev Event) bool {
	s.mu.Lock()
	if s.sealed || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.seq++
	ev.Seq = s.seq
	s.queue = append(s.queue, ev)
	if ev.Terminal() {
		s.sealed = true
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Stream) pump() {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			sealed := s.sealed
			s.mu.Unlock()
			if sealed {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.ctx.Done():
			return
		}
		if ev.Terminal() {
			return
		}
	}
}
