package task

import (
	"reflect"
	"sync"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
)

// Notification is an event published by a running task
type Notification struct {
	Sender   Task
	TaskName string
	Event    string
	Payload  []any
}

// Handler receives notifications
type Handler interface {
	HandleNotification(n Notification)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(n Notification)

func (f HandlerFunc) HandleNotification(n Notification) {
	f(n)
}

// Selector chooses which notifications a handler receives. An empty Event
// subscribes to every event. Task and Tasks restrict delivery to senders
// registered under those names; Filter is an arbitrary predicate.
type Selector struct {
	Event  string
	Task   string
	Tasks  []string
	Filter func(sender Task, event string) bool
}

func (s Selector) accepts(n Notification) bool {
	if s.Task != "" && s.Task != n.TaskName {
		return false
	}
	if len(s.Tasks) > 0 {
		found := false
		for _, name := range s.Tasks {
			if name == n.TaskName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Filter != nil && !s.Filter(n.Sender, n.Event) {
		return false
	}
	return true
}

type subscription struct {
	selector Selector
	handler  Handler
	key      any
}

// bus routes notifications to subscribers. Handlers registered under an event
// name run before catch-all handlers, each in registration order.
type bus struct {
	mu      sync.RWMutex
	buckets map[string][]subscription
}

func newBus() *bus {
	return &bus{buckets: make(map[string][]subscription)}
}

func (b *bus) subscribe(sel Selector, h Handler) error {
	if h == nil {
		return taskerrors.NewInvalidArgumentError("nil notification handler", "subscribe")
	}
	key := handlerKey(h)

	b.mu.Lock()
	defer b.mu.Unlock()

	if key != nil {
		for _, sub := range b.buckets[sel.Event] {
			if sub.key == key {
				return taskerrors.New(taskerrors.KindObserverAlreadyExists, "observer already exists", "subscribe").
					WithContext("event", sel.Event)
			}
		}
	}
	b.buckets[sel.Event] = append(b.buckets[sel.Event], subscription{selector: sel, handler: h, key: key})
	return nil
}

func (b *bus) publish(n Notification) {
	b.mu.RLock()
	var targets []subscription
	if n.Event != "" {
		targets = append(targets, b.buckets[n.Event]...)
	}
	targets = append(targets, b.buckets[""]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.selector.accepts(n) {
			sub.handler.HandleNotification(n)
		}
	}
}

// handlerKey identifies a handler for duplicate detection. Only pointer
// handlers are compared; a HandlerFunc or any other value handler is never
// treated as a duplicate and is delivered once per registration.
func handlerKey(h Handler) any {
	if reflect.TypeOf(h).Kind() == reflect.Pointer {
		return h
	}
	return nil
}
