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
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

type tickEvent struct{ N int }

func TestBroadcastSequentialOrderKeepingUp(t *testing.T) {
	bus := New()
	rx, err := Subscribe[tickEvent](bus)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ctx := context.Background()
	go func() {
		for i := 0; i < 10; i++ {
			PublishBroadcast(bus, tickEvent{N: i})
		}
	}()
	for i := 0; i < 10; i++ {
		ev, ok, err := rx.Recv(ctx)
		if err != nil || !ok {
			t.Fatalf("Recv: ok=%v err=%v", ok, err)
		}
		if ev.N != i {
			t.Fatalf("got %d, want %d", ev.N, i)
		}
	}
}

func TestBroadcastLagSkipsOldest(t *testing.T) {
	bus := New()
	rx, err := SubscribeBroadcast[tickEvent](bus, 2)
	if err != nil {
		t.Fatalf("SubscribeBroadcast: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := PublishBroadcast(bus, tickEvent{N: i}); err != nil {
			t.Fatalf("PublishBroadcast: %v", err)
		}
	}
	ctx := context.Background()
	first, ok, err := rx.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("Recv: ok=%v err=%v", ok, err)
	}
	if first.N < 8 {
		t.Fatalf("got first.N=%d, want >= 8", first.N)
	}
	prev := first.N
	for i := 0; i < 3; i++ {
		if _, err := PublishBroadcast(bus, tickEvent{N: 10 + i}); err != nil {
			t.Fatalf("PublishBroadcast: %v", err)
		}
		v, ok, err := rx.Recv(ctx)
		if err != nil || !ok {
			t.Fatalf("Recv: ok=%v err=%v", ok, err)
		}
		if v.N <= prev {
			t.Fatalf("expected strictly increasing values, got %d after %d", v.N, prev)
		}
		prev = v.N
	}
}

func TestBroadcastNoSubscribersReturnsZero(t *testing.T) {
	var logBuf bytes.Buffer
	bus := NewWithLogger(log.New(&logBuf, "", 0))
	n, err := PublishBroadcast(bus, tickEvent{N: 1})
	if err != nil {
		t.Fatalf("PublishBroadcast: %v", err)
	}
	if n != 0 {
		t.Fatalf("got fanout %d, want 0", n)
	}
	if !strings.Contains(logBuf.String(), "correlation=") {
		t.Fatalf("expected a correlation id in the dropped-event log, got %q", logBuf.String())
	}
}

func TestQueueTakenOnceOnly(t *testing.T) {
	bus := New()
	if _, err := SubscribeQueue[tickEvent](bus, 4); err != nil {
		t.Fatalf("SubscribeQueue: %v", err)
	}
	_, err := SubscribeQueue[tickEvent](bus, 4)
	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != ChannelKindMismatch {
		t.Fatalf("expected ChannelKindMismatch, got %v", err)
	}
}

func TestQueuePublishAndConsume(t *testing.T) {
	bus := New()
	rx, err := SubscribeQueue[tickEvent](bus, 1)
	if err != nil {
		t.Fatalf("SubscribeQueue: %v", err)
	}
	if err := PublishQueue(bus, tickEvent{N: 5}); err != nil {
		t.Fatalf("PublishQueue: %v", err)
	}
	var verr *Error
	if err := PublishQueue(bus, tickEvent{N: 6}); !errors.As(err, &verr) || verr.Kind != ChannelFull {
		t.Fatalf("expected ChannelFull, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, ok, err := rx.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("Recv: ok=%v err=%v", ok, err)
	}
	if v.N != 5 {
		t.Fatalf("got %d, want 5", v.N)
	}
}

func TestSubscribingDifferentKindIsMismatch(t *testing.T) {
	bus := New()
	if _, err := Subscribe[tickEvent](bus); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_, err := SubscribeQueue[tickEvent](bus, 4)
	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != ChannelKindMismatch {
		t.Fatalf("expected ChannelKindMismatch, got %v", err)
	}
}

func TestLatestImmediatelyVisible(t *testing.T) {
	bus := New()
	rx, err := SubscribeLatest(bus, tickEvent{N: 1})
	if err != nil {
		t.Fatalf("SubscribeLatest: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, ok, err := rx.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("Recv: ok=%v err=%v", ok, err)
	}
	if v.N != 1 {
		t.Fatalf("got %d, want 1", v.N)
	}
}

func TestShutdownWakesPendingReceive(t *testing.T) {
	bus := New()
	rx, err := Subscribe[tickEvent](bus)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok, _ := rx.Recv(context.Background())
		if ok {
			t.Errorf("expected closure, got a value")
		}
	}()
	time.Sleep(20 * time.Millisecond)
	n := bus.Shutdown()
	if n != 1 {
		t.Fatalf("got shutdown count %d, want 1", n)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv did not observe shutdown")
	}
}

func TestInvalidCapacityRejected(t *testing.T) {
	bus := New()
	_, err := SubscribeBroadcast[tickEvent](bus, 0)
	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != InvalidCapacity {
		t.Fatalf("expected InvalidCapacity, got %v", err)
	}
}
