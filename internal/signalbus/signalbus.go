// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package signalbus is the process-level event bus carrying the five named
// workflow signals: pause, skip, stop, mode-change, error. It adapts the
// pack's neural-bus pattern (typed event constants, per-subscription
// goroutine, non-blocking publish, WaitGroup-drained Close) from a
// general-purpose wildcard pub/sub to this fixed, small signal vocabulary.
package signalbus

import (
	"sync"
)

// Signal names a process-level workflow event. Names match the external
// wire vocabulary exactly.
type Signal string

const (
	SignalPause      Signal = "workflow:pause"
	SignalSkip       Signal = "workflow:skip"
	SignalStop       Signal = "workflow:stop"
	SignalModeChange Signal = "workflow:mode-change"
	SignalError      Signal = "workflow:error"
)

// Event is a single occurrence of a Signal with its payload.
type Event struct {
	Signal Signal

	// AutonomousMode is set on SignalModeChange.
	AutonomousMode bool

	// Reason is set on SignalError.
	Reason string
}

type subscription struct {
	signal  Signal
	ch      chan Event
	done    chan struct{}
}

// Bus is the process-level signal dispatcher. Handlers are installed at
// workflow start and removed when the FSM reaches a terminal state.
type Bus struct {
	mu   sync.RWMutex
	subs map[Signal][]*subscription
	wg   sync.WaitGroup

	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Signal][]*subscription)}
}

// Subscribe registers handler for signal, running it on its own goroutine
// fed by a small buffered channel so a slow handler cannot block Publish.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(signal Signal, handler func(Event)) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	sub := &subscription{signal: signal, ch: make(chan Event, 16), done: make(chan struct{})}
	b.subs[signal] = append(b.subs[signal], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev := <-sub.ch:
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()

	return func() { b.unsubscribe(signal, sub) }
}

func (b *Bus) unsubscribe(signal Signal, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[signal]
	for i, s := range subs {
		if s == target {
			close(s.done)
			b.subs[signal] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber of ev.Signal. Delivery is
// non-blocking: a subscriber whose channel is full drops the event rather
// than stall the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs[ev.Signal]
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Close removes every subscription and waits for their goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.done)
		}
	}
	b.subs = make(map[Signal][]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
}
