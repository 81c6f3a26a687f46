package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/fidde/herd_weight_dashboard/internal/metrics"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Mutation transforms the current items into the next items. It receives
// a copy of the current slice and must not retain it. Returning an error
// aborts the mutation with nothing persisted.
type Mutation[T any] func(items []T) ([]T, error)

// Collection is an ordered list of items persisted as one JSON snapshot.
//
// Every mutation runs on a single writer goroutine: it reads the committed
// items, applies the change, persists the whole snapshot and only then
// publishes the result. Concurrent writers therefore never lose updates,
// and a caller that sees success can rely on durability.
type Collection[T any] struct {
	name    string
	backend Backend
	logger  *slog.Logger

	mu        sync.RWMutex
	items     []T
	version   uint64
	persisted bool

	writeCh   chan writeOp[T]
	closeCh   chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// writeOp is a queued mutation.
type writeOp[T any] struct {
	ctx    context.Context
	mutate Mutation[T]
	done   chan error
}

// OpenCollection loads a collection from the backend and starts its writer.
func OpenCollection[T any](ctx context.Context, backend Backend, name string, logger *slog.Logger) (*Collection[T], error) {
	if logger == nil {
		logger = slog.Default()
	}

	payload, err := backend.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %w", models.ErrStorage, name, err)
	}

	var items []T
	if payload != nil {
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %w", models.ErrStorage, name, err)
		}
	}

	c := &Collection[T]{
		name:      name,
		backend:   backend,
		logger:    logger.With("collection", name),
		items:     items,
		persisted: payload != nil,
		writeCh:   make(chan writeOp[T], 64),
		closeCh:   make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.writer()

	return c, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Persisted reports whether a snapshot existed when the collection was
// opened, or one has been written since.
func (c *Collection[T]) Persisted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persisted
}

// Snapshot returns a copy of the committed items and their version.
// The version increases by one with every committed mutation.
func (c *Collection[T]) Snapshot() ([]T, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items), c.version
}

// Version returns the current version without copying the items.
func (c *Collection[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Mutate queues fn on the writer and waits until it is persisted or fails.
// If ctx is cancelled before the writer picks the mutation up, it is
// skipped and ctx.Err() is returned; once picked up it runs to completion
// and Mutate reports its result.
func (c *Collection[T]) Mutate(ctx context.Context, fn Mutation[T]) error {
	op := writeOp[T]{ctx: ctx, mutate: fn, done: make(chan error, 1)}

	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	select {
	case c.writeCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrClosed
	}

	// Once queued, the writer decides the outcome. A context cancelled
	// after pickup does not undo a commit, so the result is always awaited.
	select {
	case err := <-op.done:
		return err
	case <-c.stoppedCh:
		// The writer may have completed op just before stopping.
		select {
		case err := <-op.done:
			return err
		default:
			return ErrClosed
		}
	}
}

// writer is the only goroutine that changes items.
func (c *Collection[T]) writer() {
	defer c.wg.Done()
	defer close(c.stoppedCh)

	for {
		select {
		case op := <-c.writeCh:
			op.done <- c.apply(op)

		case <-c.closeCh:
			// Drain what was queued before Close
			for {
				select {
				case op := <-c.writeCh:
					op.done <- c.apply(op)
				default:
					return
				}
			}
		}
	}
}

// apply runs one read-modify-persist cycle.
func (c *Collection[T]) apply(op writeOp[T]) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	current := slices.Clone(c.items)
	c.mu.RUnlock()

	next, err := op.mutate(current)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	if next == nil {
		next = []T{}
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", models.ErrStorage, c.name, err)
	}

	// The snapshot write is not abandoned half way when the caller goes away.
	if err := c.backend.Save(context.WithoutCancel(op.ctx), c.name, payload); err != nil {
		metrics.PersistFailures.WithLabelValues(c.name).Inc()
		c.logger.Error("persisting collection failed", "error", err)
		return fmt.Errorf("%w: persisting %s: %w", models.ErrStorage, c.name, err)
	}

	c.mu.Lock()
	c.items = next
	c.version++
	c.persisted = true
	c.mu.Unlock()

	metrics.CollectionCommits.WithLabelValues(c.name).Inc()
	return nil
}

// Close stops the writer after draining queued mutations. It does not
// close the backend, which may be shared by several collections.
func (c *Collection[T]) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.wg.Wait()
	})
	return nil
}
