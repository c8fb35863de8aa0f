package page

import (
	"context"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/executor"
	"github.com/rxtech-lab/argo-datapage/internal/types"
)

// Page is one cached dataset. All fields are guarded by mu and every
// transition is published while holding it, so a listener sees transitions in
// the order they happened.
type Page[T types.Record] struct {
	key        Key
	dispatcher *executor.Serial

	mu        sync.Mutex
	state     types.PageState
	progress  float64
	data      []T
	errMsg    string
	version   uint64
	partial   bool
	listeners map[uint64]*Subscription
	idleSince time.Time
	cancel    context.CancelFunc
}

func newPage[T types.Record](key Key, dispatcher *executor.Serial, now time.Time) *Page[T] {
	return &Page[T]{
		key:        key,
		dispatcher: dispatcher,
		mu:         sync.Mutex{},
		state:      types.PageStateEmpty,
		progress:   0,
		data:       nil,
		errMsg:     "",
		version:    0,
		partial:    false,
		listeners:  make(map[uint64]*Subscription),
		idleSince:  now,
		cancel:     nil,
	}
}

func (p *Page[T]) eventLocked() Event {
	return Event{
		Key:         p.key,
		State:       p.state,
		Progress:    p.progress,
		RecordCount: len(p.data),
		Version:     p.version,
		Error:       p.errMsg,
		Partial:     p.partial,
	}
}

// publishLocked posts the current snapshot to every listener.
func (p *Page[T]) publishLocked() {
	ev := p.eventLocked()

	for _, sub := range p.listeners {
		s := sub
		p.dispatcher.Post(func() { s.deliver(ev) })
	}
}

// attach registers sub and posts it the current snapshot.
func (p *Page[T]) attach(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listeners[sub.id] = sub
	ev := p.eventLocked()
	p.dispatcher.Post(func() { sub.deliver(ev) })
}

// detach removes sub and reports whether the page is now unreferenced.
func (p *Page[T]) detach(sub *Subscription, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.listeners[sub.id]; !ok {
		return false
	}

	delete(p.listeners, sub.id)

	if len(p.listeners) == 0 {
		p.idleSince = now

		return true
	}

	return false
}

// begin moves the page into Loading (fresh) or Updating (refresh). It returns
// false when a load is already running or a refresh has no data to keep.
func (p *Page[T]) begin(refresh bool, cancel context.CancelFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == types.PageStateLoading || p.state == types.PageStateUpdating {
		return false
	}

	if refresh {
		if p.state != types.PageStateReady {
			return false
		}

		p.state = types.PageStateUpdating
	} else {
		p.state = types.PageStateLoading
		p.progress = 0
		p.data = nil
		p.errMsg = ""
		p.partial = false
	}

	p.cancel = cancel
	p.publishLocked()

	return true
}

// setProgress publishes load progress clamped to [0,99]. Progress never goes
// backwards and is ignored outside Loading.
func (p *Page[T]) setProgress(pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.PageStateLoading {
		return
	}

	pct = min(max(pct, 0), 99)
	if pct <= p.progress {
		return
	}

	p.progress = pct
	p.publishLocked()
}

// complete swaps in records and returns the change in record count.
func (p *Page[T]) complete(records []T, partial bool) int {
	if records == nil {
		records = []T{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delta := len(records) - len(p.data)

	p.data = records
	p.state = types.PageStateReady
	p.progress = 100
	p.errMsg = ""
	p.partial = partial
	p.version++
	p.cancel = nil
	p.publishLocked()

	return delta
}

// fail ends a fresh load with msg. A failed refresh keeps the old data and
// goes back to Ready.
func (p *Page[T]) fail(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancel = nil

	if p.state == types.PageStateUpdating {
		p.state = types.PageStateReady
		p.publishLocked()

		return
	}

	p.state = types.PageStateError
	p.data = nil
	p.errMsg = msg
	p.publishLocked()
}

// evictable reports whether the page has been unreferenced for longer than
// grace and is not loading.
func (p *Page[T]) evictable(now time.Time, grace time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.listeners) > 0 {
		return false
	}

	if p.state == types.PageStateLoading || p.state == types.PageStateUpdating {
		return false
	}

	return !now.Before(p.idleSince.Add(grace))
}

func (p *Page[T]) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Page[T]) recordCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.data)
}

func (p *Page[T]) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.listeners)
}

func (p *Page[T]) currentState() types.PageState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Source is the kind-independent read side of a page.
type Source interface {
	Key() Key
	State() types.PageState
	Progress() float64
	Err() string
	RecordCount() int
	Version() uint64
	Snapshot() Event
}

// View is the read-only handle consumers get for a page.
type View[T types.Record] struct {
	page *Page[T]
}

var _ Source = (*View[types.Candle])(nil)

func (v *View[T]) Key() Key {
	return v.page.key
}

func (v *View[T]) State() types.PageState {
	return v.page.currentState()
}

func (v *View[T]) Progress() float64 {
	v.page.mu.Lock()
	defer v.page.mu.Unlock()

	return v.page.progress
}

// Data returns the published records, or nil unless the page is Ready or
// Updating. The slice is shared and must not be modified; a later refresh
// swaps in a new slice and leaves this one untouched.
func (v *View[T]) Data() []T {
	v.page.mu.Lock()
	defer v.page.mu.Unlock()

	return v.page.data
}

func (v *View[T]) Err() string {
	v.page.mu.Lock()
	defer v.page.mu.Unlock()

	return v.page.errMsg
}

func (v *View[T]) RecordCount() int {
	return v.page.recordCount()
}

// Version increments every time new data is swapped in.
func (v *View[T]) Version() uint64 {
	v.page.mu.Lock()
	defer v.page.mu.Unlock()

	return v.page.version
}

// Partial reports whether the data is missing dropped chunks.
func (v *View[T]) Partial() bool {
	v.page.mu.Lock()
	defer v.page.mu.Unlock()

	return v.page.partial
}

// Read returns the snapshot together with the data it describes.
func (v *View[T]) Read() (Event, []T) {
	v.page.mu.Lock()
	defer v.page.mu.Unlock()

	return v.page.eventLocked(), v.page.data
}

// Snapshot returns a consistent copy of the page attributes.
func (v *View[T]) Snapshot() Event {
	v.page.mu.Lock()
	defer v.page.mu.Unlock()

	return v.page.eventLocked()
}
