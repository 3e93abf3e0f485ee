package core

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map"
)

// Registry maps a category to its handlers, delivered in subscription order.
// It outlives any single connection.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*orderedmap.OrderedMap // category -> listener id -> Handler
	logger   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]*orderedmap.OrderedMap),
		logger:   log,
	}
}

// Subscribe adds h under category and returns its disposer. Calling the
// disposer more than once is harmless.
func (r *Registry) Subscribe(category string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	id := uuid.NewString()

	r.mu.Lock()
	set, ok := r.handlers[category]
	if !ok {
		set = orderedmap.New()
		r.handlers[category] = set
	}
	set.Set(id, h)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(category, id) })
	}
}

func (r *Registry) unsubscribe(category, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handlers[category]
	if !ok {
		return
	}
	set.Delete(id)
	if set.Len() == 0 {
		delete(r.handlers, category)
	}
}

// Len returns the number of handlers registered for category.
func (r *Registry) Len(category string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if set, ok := r.handlers[category]; ok {
		return set.Len()
	}
	return 0
}

// Emit invokes every handler of ev.Category and returns how many ran. A
// panicking handler is logged and does not stop the others.
func (r *Registry) Emit(ev Event) int {
	r.mu.RLock()
	set, ok := r.handlers[ev.Category]
	var snapshot []Handler
	if ok {
		snapshot = make([]Handler, 0, set.Len())
		for pair := set.Oldest(); pair != nil; pair = pair.Next() {
			snapshot = append(snapshot, pair.Value.(Handler))
		}
	}
	r.mu.RUnlock()

	for _, h := range snapshot {
		r.invoke(h, ev)
	}
	return len(snapshot)
}

func (r *Registry) invoke(h Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("error in subscriber callback",
				"category", ev.Category,
				"panic", fmt.Sprint(rec))
		}
	}()
	h(ev)
}
