// Package coordinator keeps every attached view in agreement on the
// current selection.
//
// All selection changes go through one Coordinator. A change produced by a
// view is proposed to the selection store and, when the confirmed set
// differs from the previously confirmed one, rendered on every other view.
// The originating view is left alone unless the store had to drop handles
// from its proposal, in which case it is corrected too.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/nmfscope/server/internal/sample"
	"github.com/nmfscope/server/internal/selection"
	"github.com/nmfscope/server/internal/view"
)

// Sink receives instructions for one view.
type Sink interface {
	Apply(ins view.Instruction)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ins view.Instruction)

// Apply calls f(ins).
func (f SinkFunc) Apply(ins view.Instruction) { f(ins) }

// Observer is notified of coordinator activity. All methods are called with
// the coordinator lock held and must not call back into the coordinator.
type Observer interface {
	EventIngested(v selection.ViewID)
	EventRejected(v selection.ViewID)
	HandlesDropped(v selection.ViewID, n int)
	Broadcast(origin selection.ViewID, rendered int)
	EchoSuppressed(origin selection.ViewID)
	Unchanged(origin selection.ViewID)
}

// Result describes what one ingested change did.
type Result struct {
	State     selection.State
	Broadcast bool
	Rendered  []selection.ViewID
	Dropped   []sample.Handle
}

// ErrUnknownView is returned for events addressed to a view that is not
// attached.
var ErrUnknownView = errors.New("view not attached")

type attachment struct {
	adapter view.Adapter
	sink    Sink
}

type subscriber struct {
	id int
	fn func(selection.State)
}

// Coordinator is the single authority over selection changes. It is safe
// for concurrent use; changes are applied strictly in arrival order.
type Coordinator struct {
	store    *selection.Store
	observer Observer
	label    string

	mu        sync.Mutex
	views     []attachment
	confirmed sample.Set
	subs      []subscriber
	nextSub   int
	changed   chan struct{}
	lastBcast selection.State
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver installs an activity observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLabel sets the prefix used in log lines, e.g. the dataset id.
func WithLabel(label string) Option {
	return func(c *Coordinator) { c.label = label }
}

// New creates a coordinator over store.
func New(store *selection.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		observer:  nopObserver{},
		confirmed: store.Current().Active,
		changed:   make(chan struct{}),
		lastBcast: store.Current(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach registers a view and immediately renders the current state to it.
// Attaching a second adapter with the same id replaces the first.
func (c *Coordinator) Attach(a view.Adapter, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.views {
		if c.views[i].adapter.ID() == a.ID() {
			c.views[i] = attachment{adapter: a, sink: sink}
			sink.Apply(a.Render(c.store.Current()))
			return
		}
	}
	c.views = append(c.views, attachment{adapter: a, sink: sink})
	sink.Apply(a.Render(c.store.Current()))
}

// Replace swaps the adapter of an attached view, keeping its sink, and
// re-renders that view only. Other views are not touched because the
// selection itself does not change.
func (c *Coordinator) Replace(a view.Adapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.views {
		if c.views[i].adapter.ID() == a.ID() {
			c.views[i].adapter = a
			c.views[i].sink.Apply(a.Render(c.store.Current()))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownView, a.ID())
}

// Adapter returns the adapter attached for id.
func (c *Coordinator) Adapter(id selection.ViewID) (view.Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.views {
		if v.adapter.ID() == id {
			return v.adapter, true
		}
	}
	return nil, false
}

// Snapshot returns the adapter attached for id together with the selection
// it should render, read under one lock.
func (c *Coordinator) Snapshot(id selection.ViewID) (view.Adapter, selection.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	att, ok := c.lookup(id)
	if !ok {
		return nil, selection.State{}, fmt.Errorf("%w: %s", ErrUnknownView, id)
	}
	return att.adapter, c.store.Current(), nil
}

// Current returns the latest confirmed selection.
func (c *Coordinator) Current() selection.State {
	return c.store.Current()
}

// Ingest translates a native event from view id and applies it. A
// malformed event is discarded: the selection and its version stay as they
// were and the adapter error is returned.
func (c *Coordinator) Ingest(id selection.ViewID, ev view.Event) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	att, ok := c.lookup(id)
	if !ok {
		return Result{State: c.store.Current()}, fmt.Errorf("%w: %s", ErrUnknownView, id)
	}

	set, err := att.adapter.Ingest(ev)
	if err != nil {
		c.observer.EventRejected(id)
		log.Printf("[Coordinator%s] discarded %s event: %v", c.prefix(), id, err)
		return Result{State: c.store.Current()}, err
	}
	c.observer.EventIngested(id)

	return c.apply(set, id), nil
}

// Set proposes set on behalf of origin. Use selection.None for changes that
// do not come from a view (API calls, restored selections); those are
// rendered on every view.
func (c *Coordinator) Set(origin selection.ViewID, set sample.Set) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply(set, origin)
}

// Clear deselects everything on behalf of origin.
func (c *Coordinator) Clear(origin selection.ViewID) Result {
	return c.Set(origin, sample.NewSet())
}

func (c *Coordinator) apply(proposed sample.Set, origin selection.ViewID) Result {
	st, err := c.store.Propose(proposed, origin)

	res := Result{State: st}
	var invalid *selection.InvalidHandleError
	if errors.As(err, &invalid) {
		res.Dropped = invalid.Handles
		c.observer.HandlesDropped(origin, len(invalid.Handles))
		log.Printf("[Coordinator%s] %s proposal: %v", c.prefix(), origin, err)
	}

	if st.Active.Equal(c.confirmed) {
		c.observer.Unchanged(origin)
		// The origin still needs correcting if its raw gesture showed
		// handles that were dropped.
		if len(res.Dropped) > 0 {
			if att, ok := c.lookup(origin); ok {
				att.sink.Apply(att.adapter.Render(st))
				res.Rendered = append(res.Rendered, origin)
			}
		}
		return res
	}

	corrected := len(res.Dropped) > 0
	for _, v := range c.views {
		vid := v.adapter.ID()
		if vid == origin && origin != selection.None && !corrected {
			c.observer.EchoSuppressed(origin)
			continue
		}
		v.sink.Apply(v.adapter.Render(st))
		res.Rendered = append(res.Rendered, vid)
	}

	c.confirmed = st.Active
	c.lastBcast = st
	res.Broadcast = true
	c.observer.Broadcast(origin, len(res.Rendered))

	close(c.changed)
	c.changed = make(chan struct{})
	for _, s := range c.subs {
		s.fn(st)
	}
	return res
}

func (c *Coordinator) lookup(id selection.ViewID) (attachment, bool) {
	for _, v := range c.views {
		if v.adapter.ID() == id {
			return v, true
		}
	}
	return attachment{}, false
}

func (c *Coordinator) prefix() string {
	if c.label == "" {
		return ""
	}
	return " " + c.label
}

// Subscribe registers fn to be called after every confirmed change, with the
// coordinator lock held. The returned function removes the subscription.
func (c *Coordinator) Subscribe(fn func(selection.State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Wait blocks until a change with a version greater than since has been
// broadcast, then returns that state. It returns immediately when such a
// change already happened.
func (c *Coordinator) Wait(ctx context.Context, since uint64) (selection.State, error) {
	for {
		c.mu.Lock()
		last := c.lastBcast
		ch := c.changed
		c.mu.Unlock()

		if last.Version > since {
			return last, nil
		}

		select {
		case <-ctx.Done():
			return c.store.Current(), ctx.Err()
		case <-ch:
		}
	}
}

type nopObserver struct{}

func (nopObserver) EventIngested(selection.ViewID)       {}
func (nopObserver) EventRejected(selection.ViewID)       {}
func (nopObserver) HandlesDropped(selection.ViewID, int) {}
func (nopObserver) Broadcast(selection.ViewID, int)      {}
func (nopObserver) EchoSuppressed(selection.ViewID)      {}
func (nopObserver) Unchanged(selection.ViewID)           {}
