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

package eventbus

import (
	"context"
	"sync"
)

// kind identifies which of the three channel shapes a registry slot holds.
type kind int

const (
	kindBroadcast kind = iota
	kindQueue
	kindLatest
)

// broadcastItem is one ring-buffer slot: a monotonic sequence number
// plus the published value, so a lagging reader can tell how far it
// fell behind.
type broadcastItem struct {
	seq   uint64
	value any
}

// broadcastChannel is a fan-out channel with a bounded ring buffer.
// Slow subscribers observe a skipped count instead of being
// disconnected; values are never deep-copied per subscriber since all
// subscribers read the same backing buffer slot.
type broadcastChannel struct {
	mu          sync.Mutex
	capacity    int
	items       []broadcastItem
	nextSeq     uint64
	closed      bool
	wake        chan struct{}
	subscribers int
}

func newBroadcastChannel(capacity int) *broadcastChannel {
	return &broadcastChannel{
		capacity: capacity,
		items:    make([]broadcastItem, capacity),
		wake:     make(chan struct{}),
	}
}

func (b *broadcastChannel) subscribe() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers++
	return b.nextSeq
}

// publish appends value and returns the number of subscribers that
// have ever subscribed (the closest Go analogue to "currently active
// receivers" without requiring explicit receiver teardown).
func (b *broadcastChannel) publish(value any) int {
	b.mu.Lock()
	b.items[b.nextSeq%uint64(b.capacity)] = broadcastItem{seq: b.nextSeq, value: value}
	b.nextSeq++
	n := b.subscribers
	old := b.wake
	b.wake = make(chan struct{})
	b.mu.Unlock()
	close(old)
	return n
}

func (b *broadcastChannel) shutdown() {
	b.mu.Lock()
	b.closed = true
	old := b.wake
	b.wake = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// recv returns the next value at or after cursor, advancing cursor. If
// the cursor has fallen behind the oldest value still buffered, it jumps
// to the newest buffered value and the values passed over are added to
// skipped. ok is false only when the channel is closed and fully drained.
func (b *broadcastChannel) recv(ctx context.Context, cursor *uint64, skipped *uint64) (value any, ok bool, err error) {
	for {
		b.mu.Lock()
		if b.nextSeq > *cursor {
			oldest := uint64(0)
			if b.nextSeq > uint64(b.capacity) {
				oldest = b.nextSeq - uint64(b.capacity)
			}
			if *cursor < oldest {
				newest := b.nextSeq - 1
				*skipped += newest - *cursor
				*cursor = newest
			}
			item := b.items[*cursor%uint64(b.capacity)]
			*cursor++
			b.mu.Unlock()
			return item.value, true, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, false, nil
		}
		wake := b.wake
		b.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// queueChannel is a bounded single-producer-or-many/single-consumer
// FIFO. The receiver slot may be taken at most once for the lifetime
// of the channel.
type queueChannel struct {
	ch     chan any
	mu     sync.Mutex
	taken  bool
	closed bool
}

func newQueueChannel(capacity int) *queueChannel {
	return &queueChannel{ch: make(chan any, capacity)}
}

func (q *queueChannel) take() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.taken {
		return newError(ChannelKindMismatch, "receiver already taken")
	}
	q.taken = true
	return nil
}

func (q *queueChannel) publish(value any) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return newError(ChannelNotFound, "channel has been shut down")
	}
	select {
	case q.ch <- value:
		return nil
	default:
		return newError(ChannelFull, "queue is at capacity")
	}
}

func (q *queueChannel) shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.ch)
}

// latestChannel is a single-slot cell holding the most recently
// published value and a version counter used to wake readers.
type latestChannel struct {
	mu      sync.RWMutex
	value   any
	version uint64
	closed  bool
	wake    chan struct{}
}

func newLatestChannel(initial any) *latestChannel {
	return &latestChannel{value: initial, version: 1, wake: make(chan struct{})}
}

func (l *latestChannel) publish(value any) {
	l.mu.Lock()
	l.value = value
	l.version++
	old := l.wake
	l.wake = make(chan struct{})
	l.mu.Unlock()
	close(old)
}

func (l *latestChannel) shutdown() {
	l.mu.Lock()
	l.closed = true
	old := l.wake
	l.wake = make(chan struct{})
	l.mu.Unlock()
	close(old)
}

// recv blocks until the version differs from lastSeen, then returns
// the current value and the new version. ok is false only once the
// channel has been shut down and no unseen value remains.
func (l *latestChannel) recv(ctx context.Context, lastSeen *uint64) (value any, ok bool, err error) {
	for {
		l.mu.RLock()
		if l.version != *lastSeen {
			v := l.value
			*lastSeen = l.version
			l.mu.RUnlock()
			return v, true, nil
		}
		closed := l.closed
		wake := l.wake
		l.mu.RUnlock()
		if closed {
			return nil, false, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
