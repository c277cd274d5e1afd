package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
)

func newTestService() interfaces.EventService {
	return NewService(arbor.NewLogger())
}

func TestHandlerSubscription(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	var calls int64
	err := svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{
		Type:  interfaces.EventJobCreated,
		JobID: "dmo_1",
	}))

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestSubscribeNilHandler(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	assert.Error(t, svc.Subscribe(interfaces.EventJobCreated, nil))
}

func TestJobStreamScoping(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	stream, cancel := svc.SubscribeJob("dmo_1", 8)
	defer cancel()

	ctx := context.Background()
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobProgress, JobID: "dmo_other"})
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobProgress, JobID: "dmo_1"})

	select {
	case event := <-stream:
		assert.Equal(t, "dmo_1", event.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected event for subscribed job")
	}

	// Nothing else buffered: the other job's event was filtered out
	select {
	case event := <-stream:
		t.Fatalf("unexpected event: %+v", event)
	default:
	}
}

func TestKindStreamScoping(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	stream, cancel := svc.SubscribeKind("DMO", 8)
	defer cancel()

	ctx := context.Background()
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, JobID: "rmo_1", Kind: "RMO"})
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, JobID: "dmo_1", Kind: "DMO"})

	select {
	case event := <-stream:
		assert.Equal(t, "DMO", event.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected event for subscribed kind")
	}
}

func TestNoRetroactiveDelivery(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	ctx := context.Background()
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobStarted, JobID: "dmo_1"})

	stream, cancel := svc.SubscribeJob("dmo_1", 8)
	defer cancel()

	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobProgress, JobID: "dmo_1"})

	event := <-stream
	assert.Equal(t, interfaces.EventJobProgress, event.Type)

	select {
	case e := <-stream:
		t.Fatalf("received event published before subscription: %+v", e)
	default:
	}
}

func TestStreamClosesOnTerminalEvent(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	stream, cancel := svc.SubscribeJob("dmo_1", 8)
	defer cancel()

	ctx := context.Background()
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobStarted, JobID: "dmo_1"})
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCompleted, JobID: "dmo_1"})

	var types []interfaces.EventType
	for event := range stream {
		types = append(types, event.Type)
	}

	// Channel closed after the terminal event was delivered
	require.Len(t, types, 2)
	assert.Equal(t, interfaces.EventJobCompleted, types[1])
}

func TestKindStreamSurvivesTerminalEvents(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	stream, cancel := svc.SubscribeKind("DMO", 8)
	defer cancel()

	ctx := context.Background()
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCompleted, JobID: "dmo_1", Kind: "DMO"})
	svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, JobID: "dmo_2", Kind: "DMO"})

	first := <-stream
	assert.Equal(t, interfaces.EventJobCompleted, first.Type)

	// Kind streams keep flowing across jobs
	second := <-stream
	assert.Equal(t, interfaces.EventJobCreated, second.Type)
}

func TestStreamDropsWhenFull(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	stream, cancel := svc.SubscribeJob("dmo_1", 2)
	defer cancel()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobProgress, JobID: "dmo_1"})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			// Publish never blocked; overflow was dropped, not queued
			assert.Equal(t, 2, received)
			return
		}
	}
}

func TestCancelClosesStream(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	stream, cancel := svc.SubscribeJob("dmo_1", 2)
	cancel()

	_, ok := <-stream
	assert.False(t, ok)

	// Publishing after cancel must not panic on the closed channel
	svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobProgress, JobID: "dmo_1"})

	// Cancel is idempotent
	cancel()
}

func TestCloseShutsDownStreams(t *testing.T) {
	svc := newTestService()

	stream, _ := svc.SubscribeAll(2)
	require.NoError(t, svc.Close())

	_, ok := <-stream
	assert.False(t, ok)
}

func TestPublishSetsTimestamp(t *testing.T) {
	svc := newTestService()
	defer svc.Close()

	stream, cancel := svc.SubscribeAll(2)
	defer cancel()

	svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated, JobID: "dmo_1"})

	event := <-stream
	assert.False(t, event.Timestamp.IsZero())
}
