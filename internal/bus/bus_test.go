package bus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crewline/arbiter/pkg/models"
)

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func stateUpdate(sender, recipient, taskID string) *models.Message {
	msg := models.NewMessage(sender, models.RoleEngine, taskID, &models.StateUpdatePayload{
		From: models.TaskStateAssigned,
		To:   models.TaskStateInProgress,
	})
	msg.RecipientID = recipient
	return msg
}

func TestPredicate_Matches(t *testing.T) {
	msg := stateUpdate("engine", "agent-1", "task-1")
	msg.RecipientRole = models.RoleProducer

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"exact id match", Predicate{RecipientID: "agent-1"}, true},
		{"id mismatch", Predicate{RecipientID: "agent-2"}, false},
		{"role match", Predicate{RecipientRole: models.RoleProducer}, true},
		{"role mismatch", Predicate{RecipientRole: models.RoleValidator}, false},
		{"id mismatch but role match", Predicate{RecipientID: "agent-2", RecipientRole: models.RoleProducer}, true},
		{"empty predicate matches nothing", Predicate{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred.Matches(msg); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBus_PublishToRecipientID(t *testing.T) {
	b := New()
	defer b.Drain()

	var mu sync.Mutex
	got := map[string]int{}
	record := func(agent string) Handler {
		return func(msg *models.Message) error {
			mu.Lock()
			got[agent]++
			mu.Unlock()
			return nil
		}
	}

	if _, err := b.Subscribe("agent-1", Predicate{RecipientID: "agent-1"}, record("agent-1")); err != nil {
		t.Fatalf("subscribe agent-1: %v", err)
	}
	if _, err := b.Subscribe("agent-2", Predicate{RecipientID: "agent-2"}, record("agent-2")); err != nil {
		t.Fatalf("subscribe agent-2: %v", err)
	}

	id, err := b.Publish(stateUpdate("engine", "agent-1", "task-1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("publish should return the message id")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["agent-1"] == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got["agent-2"] != 0 {
		t.Errorf("agent-2 received %d messages, want 0", got["agent-2"])
	}
}

func TestBus_RoleBroadcast(t *testing.T) {
	b := New()
	defer b.Drain()

	var mu sync.Mutex
	seen := map[string]bool{}
	for _, agent := range []string{"val-1", "val-2"} {
		agent := agent
		_, err := b.Subscribe(agent, Predicate{RecipientRole: models.RoleValidator}, func(msg *models.Message) error {
			mu.Lock()
			seen[agent] = true
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", agent, err)
		}
	}

	msg := models.NewMessage("controller", models.RoleController, "task-1", &models.StateUpdatePayload{
		From: models.TaskStateInProgress,
		To:   models.TaskStateInProgress,
		Note: "broadcast",
	})
	msg.RecipientRole = models.RoleValidator
	if _, err := b.Publish(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["val-1"] && seen["val-2"]
	})
}

func TestBus_OrderingPerSenderAndTask(t *testing.T) {
	b := New()
	defer b.Drain()

	var mu sync.Mutex
	var notes []string
	_, err := b.Subscribe("agent-1", Predicate{RecipientID: "agent-1"}, func(msg *models.Message) error {
		p := msg.Payload.(*models.StateUpdatePayload)
		mu.Lock()
		notes = append(notes, p.Note)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		msg := models.NewMessage("engine", models.RoleEngine, "task-1", &models.StateUpdatePayload{
			From: models.TaskStateInProgress,
			To:   models.TaskStateInProgress,
			Note: fmt.Sprintf("step-%02d", i),
		})
		msg.RecipientID = "agent-1"
		if _, err := b.Publish(msg); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notes) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, note := range notes {
		want := fmt.Sprintf("step-%02d", i)
		if note != want {
			t.Fatalf("delivery order broken at %d: got %s, want %s", i, note, want)
		}
	}
}

func TestBus_RedeliveryOnHandlerError(t *testing.T) {
	b := New(WithRetryBackoff(time.Millisecond))
	defer b.Drain()

	var mu sync.Mutex
	calls := 0
	_, err := b.Subscribe("agent-1", Predicate{RecipientID: "agent-1"}, func(msg *models.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := b.Publish(stateUpdate("engine", "agent-1", "task-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The same message id is observed twice: that is the at-least-once
	// contract handlers must absorb.
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})

	if b.DroppedCount() != 0 {
		t.Errorf("DroppedCount() = %d, want 0", b.DroppedCount())
	}
}

func TestBus_SurrenderAfterRedeliveryLimit(t *testing.T) {
	b := New(WithRedeliveryLimit(1), WithRetryBackoff(time.Millisecond))
	defer b.Drain()

	var mu sync.Mutex
	calls := 0
	_, err := b.Subscribe("agent-1", Predicate{RecipientID: "agent-1"}, func(msg *models.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("permanent")
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := b.Publish(stateUpdate("engine", "agent-1", "task-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return b.DroppedCount() == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("handler called %d times, want 2 (initial + one redelivery)", calls)
	}
}

func TestBus_PublishAfterDrain(t *testing.T) {
	b := New()
	b.Drain()

	_, err := b.Publish(stateUpdate("engine", "agent-1", "task-1"))
	if err == nil {
		t.Fatal("publish after drain should fail")
	}

	var delivery *models.DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("publish error is %T, want *models.DeliveryError", err)
	}
	if !errors.Is(err, ErrClosed) {
		t.Error("delivery error should wrap ErrClosed")
	}
}

func TestBus_PublishInvalidMessage(t *testing.T) {
	b := New()
	defer b.Drain()

	msg := stateUpdate("engine", "agent-1", "task-1")
	msg.Type = models.MessageTypeTaskCompletion // mismatched payload

	if _, err := b.Publish(msg); err == nil {
		t.Fatal("publish should reject a mismatched envelope/payload pairing")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Drain()

	var mu sync.Mutex
	calls := 0
	subID, err := b.Subscribe("agent-1", Predicate{RecipientID: "agent-1"}, func(msg *models.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Unsubscribe(subID)
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}

	if _, err := b.Publish(stateUpdate("engine", "agent-1", "task-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("handler called %d times after unsubscribe, want 0", calls)
	}
}

func TestBus_DrainDeliversQueuedMessages(t *testing.T) {
	b := New()

	var mu sync.Mutex
	handled := 0
	_, err := b.Subscribe("agent-1", Predicate{RecipientID: "agent-1"}, func(msg *models.Message) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	const n = 10
	for i := 0; i < n; i++ {
		if _, err := b.Publish(stateUpdate("engine", "agent-1", "task-1")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	b.Drain()

	mu.Lock()
	defer mu.Unlock()
	if handled != n {
		t.Errorf("drain finished with %d handled, want %d", handled, n)
	}
}
