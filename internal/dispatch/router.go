package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Reconciler applies a worker callback to the records its producer kept.
type Reconciler interface {
	ReconcileCallback(ctx context.Context, cb Callback) error
}

// CallbackRouter sends each callback to the producer of its job type.
// Callbacks without a known type are offered to every producer in
// registration order until one owns the job.
type CallbackRouter struct {
	byType map[string]Reconciler
	order  []Reconciler
}

func NewCallbackRouter() *CallbackRouter {
	return &CallbackRouter{byType: map[string]Reconciler{}}
}

// Handle registers rec for jobType. A nil rec is ignored.
func (r *CallbackRouter) Handle(jobType string, rec Reconciler) *CallbackRouter {
	if rec == nil {
		return r
	}
	if _, ok := r.byType[jobType]; !ok {
		r.order = append(r.order, rec)
	}
	r.byType[jobType] = rec
	return r
}

func (r *CallbackRouter) ReconcileCallback(ctx context.Context, cb Callback) error {
	if rec, ok := r.byType[cb.Type]; ok {
		return rec.ReconcileCallback(ctx, cb)
	}
	for _, rec := range r.order {
		err := rec.ReconcileCallback(ctx, cb)
		if !errors.Is(err, ErrUnknownJob) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, cb.JobID)
}
