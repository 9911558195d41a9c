package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(t *testing.T, s *Stream) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestStreamDeliversInOrderThenCompletes(t *testing.T) {
	s := NewStream(context.Background())
	s.Emit("Received source draft...")
	s.Emitf("Extracted entities: %d", 1)
	handle := "@acme"
	if !s.Complete(map[string]string{"twitter": "@acme launched"}, map[string]map[string]*string{"twitter": {"Acme": &handle}}) {
		t.Fatal("expected terminal event to be accepted")
	}

	got := drain(t, s)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	for i, ev := range got {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
	if got[1].Message != "Extracted entities: 1" {
		t.Fatalf("unexpected message %q", got[1].Message)
	}
	last := got[2]
	if !last.Terminal() || last.Type != TypeCompleted || last.Message != CompletedMessage {
		t.Fatalf("unexpected terminal event %+v", last)
	}
	if *last.Handles["twitter"]["Acme"] != "@acme" {
		t.Fatalf("unexpected handles %+v", last.Handles)
	}
	<-s.Done()
}

func TestStreamAcceptsExactlyOneTerminalEvent(t *testing.T) {
	s := NewStream(context.Background())
	if !s.Fail(errors.New("bad extraction")) {
		t.Fatal("expected fail to be accepted")
	}
	if s.Complete(nil, nil) {
		t.Fatal("expected second terminal event to be rejected")
	}
	if s.Emit("late") {
		t.Fatal("expected emit after terminal to be rejected")
	}

	got := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("expected only the failure event, got %+v", got)
	}
	if got[0].Type != TypeFailed || got[0].Error != "bad extraction" || got[0].Message != FailedMessage {
		t.Fatalf("unexpected failure event %+v", got[0])
	}
}

func TestStreamClosesWhenConsumerLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(ctx)
	s.Emit("one")
	s.Emit("two")

	first := <-s.Events()
	if first.Message != "one" {
		t.Fatalf("unexpected first event %+v", first)
	}
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancellation")
	}
	if s.Emit("after cancel") {
		t.Fatal("expected emit after cancellation to be rejected")
	}
}

func TestStreamConcurrentProducers(t *testing.T) {
	s := NewStream(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s.Emit(fmt.Sprintf("producer %d event %d", i, j))
			}
		}(i)
	}

	done := make(chan []Event)
	go func() {
		var out []Event
		for ev := range s.Events() {
			out = append(out, ev)
		}
		done <- out
	}()
	wg.Wait()
	s.Complete(map[string]string{}, nil)

	got := <-done
	if len(got) != 201 {
		t.Fatalf("expected 201 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Seq != int64(i+1) {
			t.Fatalf("events out of order at %d: seq %d", i, ev.Seq)
		}
	}
	if !got[len(got)-1].Terminal() {
		t.Fatal("terminal event is not last")
	}
}
