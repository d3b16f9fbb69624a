package session

import (
	"context"
	"sync"
	"time"

	"github.com/studyshelf/coursenotes/backend/internal/accounts"
)

// Event is a single auth-state transition. Identity is nil on sign-out.
type Event struct {
	Identity  *accounts.Identity
	Timestamp time.Time
}

// Stream fans auth-state events out to subscribed consumers. It implements
// accounts.SessionPublisher so the account service can feed it directly.
type Stream struct {
	mu          sync.RWMutex
	subscribers map[int64]*streamSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type streamSubscriber struct {
	id     int64
	events chan Event
}

// NewStream constructs an auth-event stream.
func NewStream() *Stream {
	return &Stream{
		subscribers: make(map[int64]*streamSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a consumer. The returned cleanup releases the
// subscription; it also runs automatically when ctx is cancelled.
func (s *Stream) Subscribe(ctx context.Context) (<-chan Event, func()) {
	subscriber := &streamSubscriber{
		id:     s.nextSequence(),
		events: make(chan Event, s.bufferSize),
	}
	s.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.events, cleanup
}

// PublishSignIn delivers an authenticated-identity event to all consumers.
func (s *Stream) PublishSignIn(identity accounts.Identity) {
	s.publish(Event{Identity: &identity, Timestamp: s.clock().UTC()})
}

// PublishSignOut delivers an anonymous event to all consumers.
func (s *Stream) PublishSignOut() {
	s.publish(Event{Timestamp: s.clock().UTC()})
}

func (s *Stream) publish(event Event) {
	s.mu.RLock()
	copies := make([]*streamSubscriber, 0, len(s.subscribers))
	for _, subscriber := range s.subscribers {
		copies = append(copies, subscriber)
	}
	s.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.events <- event:
		default:
		}
	}
}

func (s *Stream) nextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Stream) registerSubscriber(subscriber *streamSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[subscriber.id] = subscriber
}

func (s *Stream) unregisterSubscriber(subscriberID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, subscriberID)
}
