package presence

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type recordingNotifier struct {
	mu      sync.Mutex
	updates [][]string
}

func (r *recordingNotifier) PresenceChanged(users []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, users)
}

func (r *recordingNotifier) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

type recordingMirror struct {
	events []string
}

func (m *recordingMirror) Online(u string, users []string)  { m.events = append(m.events, "+"+u) }
func (m *recordingMirror) Offline(u string, users []string) { m.events = append(m.events, "-"+u) }

func TestTracker_OnlineThenOffline(t *testing.T) {
	tracker := NewTracker(nil, nil)

	tracker.MarkOnline("alice")
	if !tracker.IsOnline("alice") {
		t.Fatal("expected alice online")
	}
	tracker.MarkOffline("alice")
	if tracker.IsOnline("alice") {
		t.Error("expected alice offline")
	}
}

func TestTracker_ListOnlineSizeMatchesDistinctUsers(t *testing.T) {
	tracker := NewTracker(nil, nil)
	for i := 0; i < 10; i++ {
		tracker.MarkOnline(fmt.Sprintf("user%02d", i))
	}
	tracker.MarkOnline("user03")

	if n := len(tracker.ListOnline()); n != 10 {
		t.Errorf("expected 10 online users, got %d", n)
	}
}

func TestTracker_IdempotentMarks(t *testing.T) {
	tracker := NewTracker(nil, nil)

	if !tracker.MarkOnline("bob") {
		t.Error("first online should change the set")
	}
	if tracker.MarkOnline("bob") {
		t.Error("second online should be a no-op")
	}
	if !tracker.MarkOffline("bob") {
		t.Error("first offline should change the set")
	}
	if tracker.MarkOffline("bob") {
		t.Error("second offline should be a no-op")
	}
}

func TestTracker_EveryMarkNotifiesFullSortedSet(t *testing.T) {
	notifier := &recordingNotifier{}
	tracker := NewTracker(notifier, nil)

	tracker.MarkOnline("carol")
	tracker.MarkOnline("alice")
	tracker.MarkOnline("alice")
	tracker.MarkOffline("zed")

	if len(notifier.updates) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(notifier.updates))
	}
	if !reflect.DeepEqual(notifier.last(), []string{"alice", "carol"}) {
		t.Errorf("unexpected set %v", notifier.last())
	}
}

func TestTracker_MirrorOnlySeesChanges(t *testing.T) {
	mirror := &recordingMirror{}
	tracker := NewTracker(nil, mirror)

	tracker.MarkOnline("alice")
	tracker.MarkOnline("alice")
	tracker.MarkOffline("alice")
	tracker.MarkOffline("alice")

	if !reflect.DeepEqual(mirror.events, []string{"+alice", "-alice"}) {
		t.Errorf("unexpected mirror events %v", mirror.events)
	}
}

func TestTracker_ConcurrentMarks(t *testing.T) {
	tracker := NewTracker(&recordingNotifier{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := fmt.Sprintf("u%d", i%5)
			tracker.MarkOnline(u)
			_ = tracker.IsOnline(u)
			_ = tracker.ListOnline()
		}(i)
	}
	wg.Wait()

	if n := len(tracker.ListOnline()); n != 5 {
		t.Errorf("expected 5 online, got %d", n)
	}
}

// Runs only when CHATTERBOX_TEST_REDIS_ADDR points at a disposable Redis.
func TestRedisMirror_Integration(t *testing.T) {
	addr := os.Getenv("CHATTERBOX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHATTERBOX_TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	prefix := fmt.Sprintf("chatterbox-test-%d", time.Now().UnixNano())
	mirror := NewRedisMirror(rdb, prefix, 2*time.Second)
	if err := mirror.Reset(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	sub := mirror.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	tracker := NewTracker(nil, mirror)
	tracker.MarkOnline("alice")
	tracker.MarkOnline("bob")
	tracker.MarkOffline("alice")

	members, err := mirror.Members(ctx)
	if err != nil {
		t.Fatalf("members failed: %v", err)
	}
	if !reflect.DeepEqual(members, []string{"bob"}) {
		t.Errorf("unexpected mirrored set %v", members)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if msg.Channel != prefix+":presence" {
		t.Errorf("unexpected channel %s", msg.Channel)
	}
	_ = rdb.Del(ctx, prefix+":online").Err()
}
