package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Executor is a unit of work registered under a string key. The engine
// has no knowledge of what an executor does internally; it either
// returns nil or an error.
type Executor func(ctx context.Context) error

// NotFoundError marks a lookup for an unregistered task key. It is a
// permanent failure: a missing registration cannot self-heal across
// retry attempts, so callers must not retry it.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown task key: %s", e.Key)
}

// Registry is a concurrency-safe lookup table from task keys to
// executors. It holds no retry or execution logic.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register stores executor under key. Last registration wins; this is
// used primarily at startup.
func (r *Registry) Register(key string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[key] = executor
}

// Get returns the executor for key, or a *NotFoundError.
func (r *Registry) Get(key string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	return exec, nil
}

type payloadKey struct{}

// WithPayload attaches a trigger payload to ctx for the executor to
// read. Executors stay `func(ctx) error`; the payload rides the
// context instead of widening every signature.
func WithPayload(ctx context.Context, payload map[string]any) context.Context {
	return context.WithValue(ctx, payloadKey{}, payload)
}

// Payload returns the trigger payload attached to ctx, if any.
func Payload(ctx context.Context) (map[string]any, bool) {
	payload, ok := ctx.Value(payloadKey{}).(map[string]any)
	return payload, ok
}

// Keys returns the registered task keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.executors))
	for k := range r.executors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
