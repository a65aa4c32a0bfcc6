// Package reactor hosts the independent side effects of a stop transition.
// Each handler subscribes to the signal bus on its own goroutine, owns its
// idempotency, and reports failures as DownstreamDegraded without touching
// the transition that triggered it.
package reactor

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/monitoring"
)

// Handler reacts to events of type T.
type Handler[T any] interface {
	Name() string
	Handle(ctx context.Context, ev T) error
}

// Source is the subscription side of the signal bus.
type Source[T any] interface {
	Subscribe() <-chan T
	Unsubscribe(<-chan T)
}

// HandlerFunc adapts a function to Handler.
func HandlerFunc[T any](name string, fn func(context.Context, T) error) Handler[T] {
	return funcHandler[T]{name: name, fn: fn}
}

type funcHandler[T any] struct {
	name string
	fn   func(context.Context, T) error
}

func (f funcHandler[T]) Name() string { return f.name }

func (f funcHandler[T]) Handle(ctx context.Context, ev T) error { return f.fn(ctx, ev) }

// Start subscribes every handler to src and processes events until ctx is
// done or the bus closes. The returned WaitGroup completes when all loops exit.
func Start[T any](ctx context.Context, src Source[T], log logger.Logger, handlers ...Handler[T]) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, h := range handlers {
		ch := src.Subscribe()
		wg.Add(1)
		go func(h Handler[T], ch <-chan T) {
			defer wg.Done()
			defer src.Unsubscribe(ch)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					Dispatch(ctx, h, ev, log)
				}
			}
		}(h, ch)
	}
	return &wg
}

// Dispatch runs one handler invocation, converting errors and panics into
// degraded reports.
func Dispatch[T any](ctx context.Context, h Handler[T], ev T, log logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			degraded(h.Name(), fmt.Errorf("panic: %v", r), log)
		}
	}()
	handled.WithLabelValues(h.Name()).Inc()
	if err := h.Handle(ctx, ev); err != nil {
		degraded(h.Name(), err, log)
	}
}

func degraded(name string, err error, log logger.Logger) {
	err = errs.Wrap(errs.DownstreamDegraded, err, name)
	degradedTotal.WithLabelValues(name).Inc()
	log.Errorw("side effect degraded", err, map[string]any{"reactor": name})
	monitoring.CaptureDegraded(name, err, nil)
}
