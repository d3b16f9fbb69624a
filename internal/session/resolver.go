package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/studyshelf/coursenotes/backend/internal/accounts"
)

var (
	errMissingStream  = errors.New("session: auth-event stream is required")
	errMissingFetcher = errors.New("session: session fetcher is required")
)

// Fetcher resolves the current session identity, if any.
type Fetcher interface {
	CurrentSession(ctx context.Context) (*accounts.Identity, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*accounts.Identity, error)

// CurrentSession invokes the wrapped function.
func (f FetcherFunc) CurrentSession(ctx context.Context) (*accounts.Identity, error) {
	return f(ctx)
}

// Snapshot is the observable session state: the current identity (nil while
// anonymous) and whether the initial resolution is still in flight. Consumers
// must not make authorization decisions while Resolving is true.
type Snapshot struct {
	Identity  *accounts.Identity
	Resolving bool
}

// ResolverConfig describes the dependencies of a Resolver.
type ResolverConfig struct {
	Stream  *Stream
	Fetcher Fetcher
	Logger  *zap.Logger
}

// Resolver tracks auth state by fetching the current session once at start
// and then following the auth-event stream. Resolving stays true until the
// first of the initial fetch or the first stream event lands, and latches
// false for the rest of the resolver's lifetime.
type Resolver struct {
	mu          sync.RWMutex
	identity    *accounts.Identity
	resolving   bool
	subscribers map[int64]chan Snapshot
	nextID      int64

	stream  *Stream
	fetcher Fetcher
	logger  *zap.Logger

	stop    context.CancelFunc
	stopped chan struct{}
}

// NewResolver constructs a Resolver. Call Start to begin resolution and
// Close to release the stream subscription.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Stream == nil {
		return nil, errMissingStream
	}
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		resolving:   true,
		subscribers: make(map[int64]chan Snapshot),
		stream:      cfg.Stream,
		fetcher:     cfg.Fetcher,
		logger:      logger,
	}, nil
}

// Start subscribes to the auth-event stream and kicks off the initial fetch.
// It returns immediately; state updates arrive asynchronously.
func (r *Resolver) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.stop = cancel
	r.stopped = make(chan struct{})
	r.mu.Unlock()

	// Subscribe before fetching so a sign-in racing the initial fetch is not lost.
	events, cleanup := r.stream.Subscribe(runCtx)

	fetched := make(chan *accounts.Identity, 1)
	go func() {
		identity, err := r.fetcher.CurrentSession(runCtx)
		if err != nil {
			r.logger.Warn("initial session fetch failed", zap.Error(err))
			fetched <- nil
			return
		}
		fetched <- identity
	}()

	go func() {
		defer close(r.stopped)
		defer cleanup()
		eventSeen := false
		for {
			select {
			case identity := <-fetched:
				fetched = nil
				// A stream event is fresher than the initial fetch.
				if !eventSeen {
					r.setState(identity)
				}
			case event, ok := <-events:
				if !ok {
					return
				}
				eventSeen = true
				r.setState(event.Identity)
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Close stops the resolver and releases its stream subscription.
func (r *Resolver) Close() {
	r.mu.RLock()
	stop := r.stop
	stopped := r.stopped
	r.mu.RUnlock()
	if stop == nil {
		return
	}
	stop()
	<-stopped
}

// Snapshot returns the current session state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Identity: r.identity, Resolving: r.resolving}
}

// Subscribe registers a consumer for state changes. The current snapshot is
// delivered immediately; the cleanup function releases the subscription and
// also runs when ctx is cancelled.
func (r *Resolver) Subscribe(ctx context.Context) (<-chan Snapshot, func()) {
	updates := make(chan Snapshot, 16)

	r.mu.Lock()
	r.nextID++
	subscriberID := r.nextID
	r.subscribers[subscriberID] = updates
	current := Snapshot{Identity: r.identity, Resolving: r.resolving}
	r.mu.Unlock()

	updates <- current

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, subscriberID)
			r.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return updates, cleanup
}

func (r *Resolver) setState(identity *accounts.Identity) {
	r.mu.Lock()
	r.identity = identity
	r.resolving = false
	snapshot := Snapshot{Identity: r.identity, Resolving: r.resolving}
	copies := make([]chan Snapshot, 0, len(r.subscribers))
	for _, subscriber := range r.subscribers {
		copies = append(copies, subscriber)
	}
	r.mu.Unlock()

	for _, subscriber := range copies {
		select {
		case subscriber <- snapshot:
		default:
		}
	}
}
