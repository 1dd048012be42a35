package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/reviewguild/pkg/panicerr"
)

const DefaultBufferSize = 256

// Bus fans events out to subscribers. A subscriber whose buffer is full
// misses the event; publishers never block.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan *Event)}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) Publish(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// PublishNew builds and publishes an event. Marshal failures are logged.
func (b *Bus) PublishNew(ctx context.Context, typ Type, runID, taskID string, data any) {
	e, err := New(typ, runID, taskID, data)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build event", "type", typ, "error", err)
		return
	}
	b.Publish(e)
}

// Handle consumes events with fn until ctx is done. A panic in fn is
// logged and the handler keeps running.
func (b *Bus) Handle(ctx context.Context, name string, fn func(context.Context, *Event) error) {
	id, ch := b.Subscribe(DefaultBufferSize)
	go func() {
		defer b.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				handle := panicerr.SafeContext(func(ctx context.Context) error { return fn(ctx, e) })
				if err := handle(ctx); err != nil {
					slog.WarnContext(ctx, "event handler failed", "handler", name, "event_id", e.ID, "type", e.Type, "error", err)
				}
			}
		}
	}()
}
