package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func TestEveryReceiverSeesEveryValue(t *testing.T) {
	testlog.Start(t)

	ch := New[int](8)
	a := ch.Subscribe()
	b := ch.Subscribe()
	for i := 0; i < 3; i++ {
		n, err := ch.Send(i)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if n != 2 {
			t.Fatalf("expected 2 receivers, got %d", n)
		}
	}
	for _, rx := range []*Receiver[int]{a, b} {
		for want := 0; want < 3; want++ {
			got, err := rx.TryRecv()
			if err != nil || got != want {
				t.Fatalf("recv: got=%d err=%v want=%d", got, err, want)
			}
		}
		if _, err := rx.TryRecv(); !errors.Is(err, ErrEmpty) {
			t.Fatalf("expected ErrEmpty, got %v", err)
		}
	}
}

func TestSubscribeStartsAtNow(t *testing.T) {
	testlog.Start(t)

	ch := New[string](4)
	early := ch.Subscribe()
	if _, err := ch.Send("before"); err != nil {
		t.Fatalf("send: %v", err)
	}
	late := ch.Subscribe()
	if _, err := late.TryRecv(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("late receiver should not replay backlog, got %v", err)
	}
	if _, err := ch.Send("after"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got, err := late.TryRecv(); err != nil || got != "after" {
		t.Fatalf("late recv: got=%q err=%v", got, err)
	}
	if got, err := early.TryRecv(); err != nil || got != "before" {
		t.Fatalf("early recv: got=%q err=%v", got, err)
	}
}

func TestLaggingReceiverGetsSignalThenOldestRetained(t *testing.T) {
	testlog.Start(t)

	ch := New[int](4)
	slow := ch.Subscribe()
	for i := 0; i < 10; i++ {
		if _, err := ch.Send(i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	_, err := slow.Recv(context.Background())
	var lagged *LaggedError
	if !errors.As(err, &lagged) {
		t.Fatalf("expected LaggedError, got %v", err)
	}
	if lagged.Skipped != 6 {
		t.Fatalf("expected 6 skipped, got %d", lagged.Skipped)
	}
	if !errors.Is(err, ErrLagged) {
		t.Fatalf("expected errors.Is ErrLagged")
	}
	for want := 6; want < 10; want++ {
		got, err := slow.Recv(context.Background())
		if err != nil || got != want {
			t.Fatalf("recv after lag: got=%d err=%v want=%d", got, err, want)
		}
	}
}

func TestSendWithoutReceivers(t *testing.T) {
	testlog.Start(t)

	ch := New[int](2)
	if _, err := ch.Send(1); !errors.Is(err, ErrNoReceivers) {
		t.Fatalf("expected ErrNoReceivers, got %v", err)
	}
	rx := ch.Subscribe()
	rx.Close()
	rx.Close()
	if ch.Receivers() != 0 {
		t.Fatalf("expected 0 receivers, got %d", ch.Receivers())
	}
	if _, err := ch.Send(2); !errors.Is(err, ErrNoReceivers) {
		t.Fatalf("expected ErrNoReceivers after detach, got %v", err)
	}
	if _, err := rx.TryRecv(); !errors.Is(err, ErrClosed) {
		t.Fatalf("detached receiver: expected ErrClosed, got %v", err)
	}
}

func TestRecvHonoursContext(t *testing.T) {
	testlog.Start(t)

	ch := New[int](2)
	rx := ch.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rx.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRecvWakesOnSend(t *testing.T) {
	testlog.Start(t)

	ch := New[int](2)
	rx := ch.Subscribe()
	got := make(chan int, 1)
	go func() {
		v, err := rx.Recv(context.Background())
		if err == nil {
			got <- v
		}
	}()
	time.Sleep(10 * time.Millisecond)
	if _, err := ch.Send(42); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case v := <-got:
		if v != 42 {
			t.Fatalf("unexpected value: %d", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("receiver was not woken")
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	testlog.Start(t)

	ch := New[int](4)
	rx := ch.Subscribe()
	if _, err := ch.Send(7); err != nil {
		t.Fatalf("send: %v", err)
	}
	ch.Close()
	ch.Close()
	if _, err := ch.Send(8); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on send, got %v", err)
	}
	if v, err := rx.Recv(context.Background()); err != nil || v != 7 {
		t.Fatalf("expected retained value, got=%d err=%v", v, err)
	}
	if _, err := rx.Recv(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentSendersNeverBlock(t *testing.T) {
	testlog.Start(t)

	const senders, perSender = 8, 200
	ch := New[int](senders * perSender)
	rx := ch.Subscribe()
	// a receiver that never reads must not stall senders
	idle := ch.Subscribe()
	defer idle.Close()

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := ch.Send(i); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if ch.Sent() != senders*perSender {
		t.Fatalf("unexpected sent count: %d", ch.Sent())
	}
	count := 0
	for {
		if _, err := rx.TryRecv(); err != nil {
			if !errors.Is(err, ErrEmpty) {
				t.Fatalf("recv: %v", err)
			}
			break
		}
		count++
	}
	if count != senders*perSender {
		t.Fatalf("expected %d values, got %d", senders*perSender, count)
	}
}

func TestCapacityNormalised(t *testing.T) {
	testlog.Start(t)

	if New[int](0).Capacity() != 1 {
		t.Fatalf("expected capacity 1")
	}
}
