// Package bus provides the asynchronous message channel connecting every
// component of the orchestration protocol. Delivery is at-least-once with
// per-subscription FIFO order, so messages from one sender about one task
// arrive in send order; handlers must be idempotent with respect to message
// id. The bus never inspects payloads.
package bus

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crewline/arbiter/pkg/models"
	"github.com/google/uuid"
)

// ErrClosed is returned (wrapped in a DeliveryError) once the bus has shut down.
var ErrClosed = errors.New("bus is closed")

const (
	// defaultRedeliveryLimit is how many times a failing handler sees the
	// same message again before the bus gives up on it.
	defaultRedeliveryLimit = 3
	// defaultRetryBackoff is the base delay between redeliveries; the delay
	// grows linearly with the attempt number.
	defaultRetryBackoff = 50 * time.Millisecond
)

// Handler consumes a delivered message. Returning an error requests
// redelivery; the bus retries with backoff before surrendering the message.
type Handler func(msg *models.Message) error

// Predicate filters which published messages a subscription receives.
// A message matches when its recipient id equals RecipientID, or its
// recipient role equals RecipientRole. An empty predicate matches nothing.
type Predicate struct {
	// RecipientID matches messages addressed to exactly one subscriber.
	RecipientID string
	// RecipientRole matches messages broadcast to every agent of a role.
	RecipientRole models.AgentRole
}

// Matches reports whether msg should be delivered under this predicate.
func (p Predicate) Matches(msg *models.Message) bool {
	if p.RecipientID != "" && msg.RecipientID == p.RecipientID {
		return true
	}
	if p.RecipientRole != "" && msg.RecipientRole == p.RecipientRole {
		return true
	}
	return false
}

// Recorder journals published envelopes. Recording failures never block or
// fail delivery.
type Recorder interface {
	Record(msg *models.Message) error
}

// subscription is one filtered listener with its own FIFO queue. A dedicated
// goroutine drains the queue, which preserves publish order per subscriber.
type subscription struct {
	id      string
	agentID string
	pred    Predicate
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*models.Message
	closed bool
}

func (s *subscription) enqueue(msg *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, msg)
	s.cond.Signal()
}

// close discards anything still queued; used by Unsubscribe.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
}

// Bus is the in-process message bus. Construct with New, hand the value to
// every component explicitly; lifecycle belongs to the orchestration engine.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	closed  bool
	wg      sync.WaitGroup
	journal Recorder

	redeliveryLimit int
	retryBackoff    time.Duration

	// dropped counts messages surrendered after exhausting redelivery.
	dropped atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithRedeliveryLimit overrides how many redeliveries a failing handler gets.
func WithRedeliveryLimit(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.redeliveryLimit = n
		}
	}
}

// WithRetryBackoff overrides the base delay between redeliveries.
func WithRetryBackoff(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.retryBackoff = d
		}
	}
}

// WithJournal records every published envelope to j.
func WithJournal(j Recorder) Option {
	return func(b *Bus) {
		b.journal = j
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:            make(map[string]*subscription),
		redeliveryLimit: defaultRedeliveryLimit,
		retryBackoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish validates msg and fans it out to every matching subscription.
// It returns the message id on success and a DeliveryError when the bus is
// closed; callers retry delivery errors with backoff.
func (b *Bus) Publish(msg *models.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", &models.DeliveryError{Op: "publish", Err: err}
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return "", &models.DeliveryError{Op: "publish", Err: ErrClosed}
	}
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.pred.Matches(msg) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	if b.journal != nil {
		if err := b.journal.Record(msg); err != nil {
			log.Printf("[bus] journal record failed for %s: %v", msg.ID, err)
		}
	}

	for _, s := range targets {
		s.enqueue(msg)
	}
	return msg.ID, nil
}

// Subscribe registers a filtered listener for agentID and returns the
// subscription id. Delivery starts immediately on a dedicated goroutine.
func (b *Bus) Subscribe(agentID string, pred Predicate, handler Handler) (string, error) {
	if handler == nil {
		return "", errors.New("subscribe: handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", &models.DeliveryError{Op: "subscribe", Err: ErrClosed}
	}

	s := &subscription{
		id:      uuid.New().String()[:8],
		agentID: agentID,
		pred:    pred,
		handler: handler,
	}
	s.cond = sync.NewCond(&s.mu)
	b.subs[s.id] = s

	b.wg.Add(1)
	go b.deliver(s)
	return s.id, nil
}

// Unsubscribe removes a subscription. Queued messages for it are discarded.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	s, ok := b.subs[subID]
	if ok {
		delete(b.subs, subID)
	}
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

// Drain stops accepting publishes and blocks until every subscription queue
// has emptied and all delivery goroutines have exited.
func (b *Bus) Drain() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.closeWhenEmpty()
	}
	b.wg.Wait()
}

// closeWhenEmpty marks the subscription finished; its delivery goroutine
// exits after working off whatever is already queued.
func (s *subscription) closeWhenEmpty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedCount returns how many messages were surrendered after redelivery
// was exhausted.
func (b *Bus) DroppedCount() uint64 {
	return b.dropped.Load()
}

// deliver drains one subscription's queue in order.
func (b *Bus) deliver(s *subscription) {
	defer b.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		b.dispatch(s, msg)
	}
}

// dispatch invokes the handler, redelivering the same message on error.
// Redelivery happens in place so later messages never overtake a retried one.
func (b *Bus) dispatch(s *subscription, msg *models.Message) {
	var err error
	for attempt := 0; attempt <= b.redeliveryLimit; attempt++ {
		if attempt > 0 {
			time.Sleep(b.retryBackoff * time.Duration(attempt))
		}
		if err = s.handler(msg); err == nil {
			return
		}
	}

	dropped := b.dropped.Add(1)
	log.Printf("[bus] surrendering %s message %s for %s after %d deliveries: %v (%d surrendered total)",
		msg.Type, msg.ID, s.agentID, b.redeliveryLimit+1, err, dropped)
}
