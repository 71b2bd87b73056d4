package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"hookgate/internal/events"
	"hookgate/internal/queue"
)

// fakeSource is a hand-rolled DeliverySource for testing.
type fakeSource struct {
	deliveries []*queue.Delivery

	completed []string
	failed    []string
	failCause string
}

func (f *fakeSource) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	if len(f.deliveries) == 0 {
		return nil, nil
	}
	d := f.deliveries[0]
	f.deliveries = f.deliveries[1:]
	return d, nil
}

func (f *fakeSource) Complete(ctx context.Context, deliveryID string) error {
	f.completed = append(f.completed, deliveryID)
	return nil
}

func (f *fakeSource) Fail(ctx context.Context, deliveryID string, cause string, backoffBase time.Duration) error {
	f.failed = append(f.failed, deliveryID)
	f.failCause = cause
	return nil
}

func newTestDispatcher(source *fakeSource) *Dispatcher {
	return New(source, events.NewHub(16), Config{Workers: 1, PollInterval: time.Millisecond})
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	source := &fakeSource{}
	d := newTestDispatcher(source)

	var got queue.Delivery
	d.Register("push", HandlerFunc(func(ctx context.Context, dv queue.Delivery) error {
		got = dv
		return nil
	}))

	delivery := &queue.Delivery{ID: "d-1", Event: "push", Payload: []byte(`{"x":1}`)}
	d.dispatch(context.Background(), delivery)

	if got.ID != "d-1" {
		t.Fatalf("handler got %#v", got)
	}
	if string(got.Payload) != `{"x":1}` {
		t.Errorf("payload = %q", got.Payload)
	}
	if len(source.completed) != 1 || source.completed[0] != "d-1" {
		t.Errorf("completed = %v, want [d-1]", source.completed)
	}
	if len(source.failed) != 0 {
		t.Errorf("failed = %v, want none", source.failed)
	}
}

func TestDispatchFallsBackToDefaultHandler(t *testing.T) {
	source := &fakeSource{}
	d := newTestDispatcher(source)

	var defaultCalled bool
	d.Register("push", HandlerFunc(func(ctx context.Context, dv queue.Delivery) error {
		t.Fatal("push handler should not run for issues event")
		return nil
	}))
	d.RegisterDefault(HandlerFunc(func(ctx context.Context, dv queue.Delivery) error {
		defaultCalled = true
		return nil
	}))

	d.dispatch(context.Background(), &queue.Delivery{ID: "d-2", Event: "issues"})

	if !defaultCalled {
		t.Error("default handler should have been invoked")
	}
}

func TestDispatchHandlerFailureRecorded(t *testing.T) {
	source := &fakeSource{}
	d := newTestDispatcher(source)

	d.Register("push", HandlerFunc(func(ctx context.Context, dv queue.Delivery) error {
		return errors.New("downstream unavailable")
	}))

	d.dispatch(context.Background(), &queue.Delivery{ID: "d-3", Event: "push", Attempt: 1})

	if len(source.failed) != 1 || source.failed[0] != "d-3" {
		t.Fatalf("failed = %v, want [d-3]", source.failed)
	}
	if source.failCause != "downstream unavailable" {
		t.Errorf("failCause = %q", source.failCause)
	}
	if len(source.completed) != 0 {
		t.Errorf("completed = %v, want none", source.completed)
	}
}

func TestDispatchUnhandledEventArchived(t *testing.T) {
	source := &fakeSource{}
	d := newTestDispatcher(source)

	d.dispatch(context.Background(), &queue.Delivery{ID: "d-4", Event: "gollum"})

	// No handler registered at all: archive rather than retry forever.
	if len(source.completed) != 1 || source.completed[0] != "d-4" {
		t.Errorf("completed = %v, want [d-4]", source.completed)
	}
}

func TestProcessNextEmptyQueue(t *testing.T) {
	source := &fakeSource{}
	d := newTestDispatcher(source)

	if err := d.processNext(context.Background()); err != nil {
		t.Fatalf("processNext on empty queue: %v", err)
	}
	if len(source.completed) != 0 || len(source.failed) != 0 {
		t.Error("empty queue should cause no state changes")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	source := &fakeSource{
		deliveries: []*queue.Delivery{{ID: "d-5", Event: "push"}},
	}
	d := newTestDispatcher(source)
	d.RegisterDefault(HandlerFunc(func(ctx context.Context, dv queue.Delivery) error {
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- d.Start(ctx)
	}()

	// Give the worker a few poll cycles, then stop it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}

	if len(source.completed) != 1 {
		t.Errorf("completed = %v, want the queued delivery handled", source.completed)
	}
}
