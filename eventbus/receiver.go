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
)

// BroadcastReceiver reads published values of type T from a Broadcast
// channel. A slow receiver never observes a raw lag error: Recv
// resumes from the freshest available value and accumulates the
// number of skipped values into Skipped, mirroring the source's
// receiver adapter that hides Lagged errors from callers.
type BroadcastReceiver[T any] struct {
	channel *broadcastChannel
	cursor  uint64
	skipped uint64
}

// Recv blocks until a value is available, the channel is shut down, or
// ctx is done. ok is false only on shutdown with nothing left to read.
func (r *BroadcastReceiver[T]) Recv(ctx context.Context) (value T, ok bool, err error) {
	v, ok, err := r.channel.recv(ctx, &r.cursor, &r.skipped)
	if !ok || err != nil {
		var zero T
		return zero, ok, err
	}
	return v.(T), true, nil
}

// Skipped returns the cumulative number of values this receiver has
// fallen behind and dropped due to the channel's capacity.
func (r *BroadcastReceiver[T]) Skipped() uint64 { return r.skipped }

// QueueReceiver reads published values of type T from a Queue channel.
// At most one QueueReceiver can ever be obtained for a given type on a
// given bus.
type QueueReceiver[T any] struct {
	channel *queueChannel
}

// Recv blocks until a value is available, the channel is shut down, or
// ctx is done. ok is false only on shutdown with nothing left to read.
func (r *QueueReceiver[T]) Recv(ctx context.Context) (value T, ok bool, err error) {
	select {
	case v, open := <-r.channel.ch:
		if !open {
			var zero T
			return zero, false, nil
		}
		return v.(T), true, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// LatestReceiver observes the most recently published value of type T.
// A newly created receiver's first Recv call returns the current value
// immediately.
type LatestReceiver[T any] struct {
	channel  *latestChannel
	lastSeen uint64
}

// Recv blocks until the cell's value has changed since this receiver
// last observed it (or, on the first call, returns the current value
// immediately), the channel is shut down, or ctx is done.
func (r *LatestReceiver[T]) Recv(ctx context.Context) (value T, ok bool, err error) {
	v, ok, err := r.channel.recv(ctx, &r.lastSeen)
	if !ok || err != nil {
		var zero T
		return zero, ok, err
	}
	return v.(T), true, nil
}
