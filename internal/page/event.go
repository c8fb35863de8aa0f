package page

import (
	"sync"
	"sync/atomic"

	"github.com/rxtech-lab/argo-datapage/internal/types"
)

// Event is a snapshot of a page taken at a transition.
type Event struct {
	Key         Key
	State       types.PageState
	Progress    float64
	RecordCount int
	Version     uint64
	Error       string
	Partial     bool
}

// Listener receives page events on the notification dispatcher. It must not
// block.
type Listener func(Event)

// Subscription is the handle a consumer got from Request. It is used to
// release the page; events posted before Release but not yet delivered are
// dropped.
type Subscription struct {
	id       uint64
	key      Key
	listener Listener
	active   atomic.Bool
	once     sync.Once
	release  func(*Subscription)
}

func newSubscription(id uint64, key Key, listener Listener, release func(*Subscription)) *Subscription {
	s := &Subscription{
		id:       id,
		key:      key,
		listener: listener,
		active:   atomic.Bool{},
		once:     sync.Once{},
		release:  release,
	}
	s.active.Store(true)

	return s
}

// Key returns the key of the subscribed page.
func (s *Subscription) Key() Key {
	return s.key
}

// Active reports whether the subscription has not been released.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Release detaches the listener and drops the page reference. Idempotent.
func (s *Subscription) Release() {
	if s == nil {
		return
	}

	s.once.Do(func() {
		s.active.Store(false)

		if s.release != nil {
			s.release(s)
		}
	})
}

func (s *Subscription) deliver(ev Event) {
	if s.listener != nil && s.active.Load() {
		s.listener(ev)
	}
}
