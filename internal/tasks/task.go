package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownTask = errors.New("unknown task")

// Summary is the loggable outcome of one pass.
type Summary map[string]any

// Task is one periodic pass. Passes must be safe to run concurrently with
// themselves.
type Task interface {
	Name() string
	Execute(ctx context.Context) (Summary, error)
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) (Summary, error)
}

func (t funcTask) Name() string { return t.name }

func (t funcTask) Execute(ctx context.Context) (Summary, error) { return t.fn(ctx) }

func NewFunc(name string, fn func(ctx context.Context) (Summary, error)) Task {
	return funcTask{name: name, fn: fn}
}

type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]Task{}}
}

func (r *Registry) Register(t Task) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("task name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.Name()]; exists {
		return fmt.Errorf("task %q already registered", t.Name())
	}
	r.tasks[t.Name()] = t
	return nil
}

func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
