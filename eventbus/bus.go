// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package eventbus provides an in-process publish/subscribe registry
// keyed by event type, with three channel kinds: Broadcast (fan-out,
// ring-buffer, lag-tolerant), Queue (bounded FIFO, single consumer,
// taken once) and Latest (single current value with change
// notification). A type's channel kind is fixed for the lifetime of
// the bus; requesting a different kind for an already-registered type
// fails with ChannelKindMismatch.
//
// The Rust original keys its registry by std::any::TypeId. This
// package uses reflect.Type obtained from a generic type parameter at
// each call site, which is Go's direct equivalent of runtime type
// identity.
package eventbus

import (
	"log"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// DefaultCapacity is used by Subscribe when no explicit capacity is
// supplied.
const DefaultCapacity = 128

// MinCapacity is the smallest capacity any channel may be created
// with; requesting less returns InvalidCapacity.
const MinCapacity = 1

type entry struct {
	k         kind
	capacity  int
	broadcast *broadcastChannel
	queue     *queueChannel
	latest    *latestChannel
}

type busState struct {
	mu       sync.RWMutex
	channels map[reflect.Type]*entry
	logger   *log.Logger
}

// EventBus is a cheap, shareable handle over the channel registry.
// Copying an EventBus value copies only a pointer to shared state.
type EventBus struct {
	inner *busState
}

// New returns an empty EventBus logging to the standard logger.
func New() EventBus {
	return EventBus{inner: &busState{
		channels: make(map[reflect.Type]*entry),
		logger:   log.Default(),
	}}
}

// NewWithLogger returns an empty EventBus logging to l.
func NewWithLogger(l *log.Logger) EventBus {
	b := New()
	if l != nil {
		b.inner.logger = l
	}
	return b
}

// String never discloses channel contents.
func (EventBus) String() string { return "eventbus.EventBus{redacted}" }

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (b EventBus) lookup(t reflect.Type) (*entry, bool) {
	b.inner.mu.RLock()
	defer b.inner.mu.RUnlock()
	e, ok := b.inner.channels[t]
	return e, ok
}

func ensureBroadcast[T any](b EventBus, capacity int) (*entry, error) {
	t := typeOf[T]()
	if e, ok := b.lookup(t); ok {
		if e.k != kindBroadcast {
			return nil, newError(ChannelKindMismatch, "type already registered with a different channel kind")
		}
		if capacity != e.capacity {
			b.inner.logger.Printf("eventbus: capacity mismatch on resubscribe to %s: requested %d, existing %d wins", t, capacity, e.capacity)
		}
		return e, nil
	}
	b.inner.mu.Lock()
	defer b.inner.mu.Unlock()
	if e, ok := b.inner.channels[t]; ok {
		if e.k != kindBroadcast {
			return nil, newError(ChannelKindMismatch, "type already registered with a different channel kind")
		}
		return e, nil
	}
	e := &entry{k: kindBroadcast, capacity: capacity, broadcast: newBroadcastChannel(capacity)}
	b.inner.channels[t] = e
	return e, nil
}

func ensureQueue[T any](b EventBus, capacity int) (*entry, error) {
	t := typeOf[T]()
	if e, ok := b.lookup(t); ok {
		if e.k != kindQueue {
			return nil, newError(ChannelKindMismatch, "type already registered with a different channel kind")
		}
		return e, nil
	}
	b.inner.mu.Lock()
	defer b.inner.mu.Unlock()
	if e, ok := b.inner.channels[t]; ok {
		if e.k != kindQueue {
			return nil, newError(ChannelKindMismatch, "type already registered with a different channel kind")
		}
		return e, nil
	}
	e := &entry{k: kindQueue, capacity: capacity, queue: newQueueChannel(capacity)}
	b.inner.channels[t] = e
	return e, nil
}

func ensureLatest[T any](b EventBus, initial T) (*entry, error) {
	t := typeOf[T]()
	if e, ok := b.lookup(t); ok {
		if e.k != kindLatest {
			return nil, newError(ChannelKindMismatch, "type already registered with a different channel kind")
		}
		return e, nil
	}
	b.inner.mu.Lock()
	defer b.inner.mu.Unlock()
	if e, ok := b.inner.channels[t]; ok {
		if e.k != kindLatest {
			return nil, newError(ChannelKindMismatch, "type already registered with a different channel kind")
		}
		return e, nil
	}
	e := &entry{k: kindLatest, latest: newLatestChannel(initial)}
	b.inner.channels[t] = e
	return e, nil
}

// Subscribe registers (or joins) the default-capacity broadcast
// channel for T.
func Subscribe[T any](b EventBus) (*BroadcastReceiver[T], error) {
	return SubscribeBroadcast[T](b, DefaultCapacity)
}

// SubscribeBroadcast registers (or joins) a broadcast channel for T
// with the given capacity. If a broadcast channel for T already
// exists, a new receiver is returned regardless of whether capacity
// matches (the existing capacity wins; a mismatch is logged).
func SubscribeBroadcast[T any](b EventBus, capacity int) (*BroadcastReceiver[T], error) {
	if capacity < MinCapacity {
		return nil, newError(InvalidCapacity, "capacity must be at least 1")
	}
	e, err := ensureBroadcast[T](b, capacity)
	if err != nil {
		return nil, err
	}
	cursor := e.broadcast.subscribe()
	return &BroadcastReceiver[T]{channel: e.broadcast, cursor: cursor}, nil
}

// SubscribeQueue registers (lazily creating) a bounded FIFO for T and
// takes its single receiver slot. A second call for the same T
// returns ChannelKindMismatch with the message "receiver already taken".
func SubscribeQueue[T any](b EventBus, capacity int) (*QueueReceiver[T], error) {
	if capacity < MinCapacity {
		return nil, newError(InvalidCapacity, "capacity must be at least 1")
	}
	e, err := ensureQueue[T](b, capacity)
	if err != nil {
		return nil, err
	}
	if err := e.queue.take(); err != nil {
		return nil, err
	}
	return &QueueReceiver[T]{channel: e.queue}, nil
}

// SubscribeLatest registers (lazily creating, with initial as the
// current value) the latest-value cell for T and returns a receiver
// that immediately observes the current value on its first Recv.
func SubscribeLatest[T any](b EventBus, initial T) (*LatestReceiver[T], error) {
	e, err := ensureLatest[T](b, initial)
	if err != nil {
		return nil, err
	}
	return &LatestReceiver[T]{channel: e.latest}, nil
}

// PublishBroadcast dispatches value to every Broadcast[T] subscriber.
// If no channel has ever been registered for T, the event is dropped
// and fanout is 0 — this is not an error, but it is logged with a
// correlation id so a missing subscriber can be traced through logs
// gathered from other parts of the system.
func PublishBroadcast[T any](b EventBus, value T) (fanout int, err error) {
	t := typeOf[T]()
	e, ok := b.lookup(t)
	if !ok {
		b.inner.logger.Printf("eventbus: dropped %s, no subscriber ever registered [correlation=%s]", t, uuid.NewString())
		return 0, nil
	}
	if e.k != kindBroadcast {
		return 0, newError(ChannelKindMismatch, "type already registered with a different channel kind")
	}
	return e.broadcast.publish(value), nil
}

// PublishQueue performs a non-blocking send to the Queue[T] channel.
// A full queue returns ChannelFull; no registered channel for T
// returns ChannelNotFound.
func PublishQueue[T any](b EventBus, value T) error {
	t := typeOf[T]()
	e, ok := b.lookup(t)
	if !ok {
		return newError(ChannelNotFound, "no queue channel registered for this type")
	}
	if e.k != kindQueue {
		return newError(ChannelKindMismatch, "type already registered with a different channel kind")
	}
	return e.queue.publish(value)
}

// PublishLatest overwrites the Latest[T] cell, signalling every
// subscriber as changed.
func PublishLatest[T any](b EventBus, value T) error {
	t := typeOf[T]()
	e, ok := b.lookup(t)
	if !ok {
		return newError(ChannelNotFound, "no latest channel registered for this type")
	}
	if e.k != kindLatest {
		return newError(ChannelKindMismatch, "type already registered with a different channel kind")
	}
	e.latest.publish(value)
	return nil
}

// Shutdown closes every registered channel, waking any pending
// receive with an observed closure, and returns how many channels were
// dropped.
func (b EventBus) Shutdown() int {
	b.inner.mu.Lock()
	defer b.inner.mu.Unlock()
	n := len(b.inner.channels)
	for _, e := range b.inner.channels {
		switch e.k {
		case kindBroadcast:
			e.broadcast.shutdown()
		case kindQueue:
			e.queue.shutdown()
		case kindLatest:
			e.latest.shutdown()
		}
	}
	b.inner.channels = make(map[reflect.Type]*entry)
	return n
}
