package signalbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	received := make(chan Event, 1)
	unsub := b.Subscribe(SignalPause, func(ev Event) {
		received <- ev
	})
	defer unsub()

	b.Publish(Event{Signal: SignalPause})

	select {
	case ev := <-received:
		require.Equal(t, SignalPause, ev.Signal)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishOnlyReachesMatchingSignal(t *testing.T) {
	b := New()
	defer b.Close()

	var gotSkip, gotStop int32
	var mu sync.Mutex
	b.Subscribe(SignalSkip, func(ev Event) {
		mu.Lock()
		gotSkip++
		mu.Unlock()
	})
	b.Subscribe(SignalStop, func(ev Event) {
		mu.Lock()
		gotStop++
		mu.Unlock()
	})

	b.Publish(Event{Signal: SignalSkip})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, 1, gotSkip)
	require.EqualValues(t, 0, gotStop)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var count int32
	var mu sync.Mutex
	unsub := b.Subscribe(SignalError, func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(Event{Signal: SignalError})
	time.Sleep(20 * time.Millisecond)
	unsub()
	b.Publish(Event{Signal: SignalError})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, 1, count)
}

func TestBus_CloseDrainsSubscribers(t *testing.T) {
	b := New()
	b.Subscribe(SignalPause, func(ev Event) {})
	b.Subscribe(SignalStop, func(ev Event) {})

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	b.Close()
	require.NotPanics(t, func() {
		b.Publish(Event{Signal: SignalPause})
	})
}

func TestBus_SubscribeAfterCloseReturnsNoopUnsub(t *testing.T) {
	b := New()
	b.Close()
	unsub := b.Subscribe(SignalModeChange, func(ev Event) {})
	require.NotPanics(t, unsub)
}
