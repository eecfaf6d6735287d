package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/relay/broadcast"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func TestNextIDIsMonotonicAndUnique(t *testing.T) {
	testlog.Start(t)

	r := New(DefaultConfig())
	const workers, each = 8, 100
	seen := make(map[ClientID]struct{}, workers*each)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := ClientID(0)
			for i := 0; i < each; i++ {
				id := r.NextID()
				if i > 0 && id <= last {
					t.Errorf("id went backwards: %d after %d", id, last)
				}
				last = id
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*each {
		t.Fatalf("expected %d unique ids, got %d", workers*each, len(seen))
	}
	if got := r.Stats().NextID; got != workers*each {
		t.Fatalf("unexpected next id: %d", got)
	}
}

func TestPublishReachesSubscribersWithSender(t *testing.T) {
	testlog.Start(t)

	at := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(Config{Capacity: 4, Clock: func() time.Time { return at }})
	a, b := r.NextID(), r.NextID()
	subA := r.Subscribe()
	subB := r.Subscribe()
	defer subA.Close()
	defer subB.Close()

	msg := r.Stamp(protocol.SentMessage{Author: "A", Text: "b"})
	n, err := r.Publish(a, msg)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	for _, sub := range []*Subscription{subA, subB} {
		env, err := sub.Recv(context.Background())
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if env.Sender != a || env.Sender == b {
			t.Fatalf("unexpected sender: %v", env.Sender)
		}
		want := protocol.ReceivedMessage{Author: "A", Text: "b", Timestamp: "2000-01-01T00:00:00Z"}
		if env.Message != want {
			t.Fatalf("unexpected message: %#v", env.Message)
		}
	}
	if got := r.Stats().Published; got != 1 {
		t.Fatalf("unexpected published count: %d", got)
	}
}

func TestPublishWithoutSubscribersReportsFailure(t *testing.T) {
	testlog.Start(t)

	r := New(Config{})
	if r.Stats().Capacity != DefaultCapacity {
		t.Fatalf("unexpected capacity: %d", r.Stats().Capacity)
	}
	if _, err := r.Publish(r.NextID(), protocol.ReceivedMessage{}); !errors.Is(err, broadcast.ErrNoReceivers) {
		t.Fatalf("expected ErrNoReceivers, got %v", err)
	}
}

func TestSlowSubscriberLagsWithoutStallingPublisher(t *testing.T) {
	testlog.Start(t)

	r := New(Config{Capacity: 2})
	slow := r.Subscribe()
	defer slow.Close()
	sender := r.NextID()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, _ = r.Publish(sender, protocol.ReceivedMessage{Text: string(rune('a' + i%26))})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher stalled on slow subscriber")
	}

	_, err := slow.Recv(context.Background())
	if !errors.Is(err, broadcast.ErrLagged) {
		t.Fatalf("expected lag signal, got %v", err)
	}
	if _, err := slow.Recv(context.Background()); err != nil {
		t.Fatalf("expected retained message after lag, got %v", err)
	}
}

func TestClientIDString(t *testing.T) {
	testlog.Start(t)

	if got := ClientID(7).String(); got != "#7" {
		t.Fatalf("unexpected id string: %q", got)
	}
}
