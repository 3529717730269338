package store

import (
	"sync"
	"sync/atomic"
)

// nextId is the process-wide id counter. Ids are never reused.
var nextId uint32

// NextId yields a monotonically increasing id used for subscriptions,
// dialogs, browsers and transfers.
func NextId() uint32 {
	return atomic.AddUint32(&nextId, 1)
}

// NotifyFunc queues a coarse event kind during a mutate
type NotifyFunc func(Event)

// SideEffect is work that must run outside the store lock
type SideEffect func()

// AddSideEffectFunc collects side effects during event dispatch
type AddSideEffectFunc func(SideEffect)

// MutationNotifyFunc dispatches a mutation event to mutation
// subscribers during the mutate, inside the critical section.
type MutationNotifyFunc func(MutationEvent, *State, *MutationState)

// MutateFunc is a state mutation. It must not block or await I/O.
type MutateFunc func(state *State, notify NotifyFunc, mutationState *MutationState, mutationNotify MutationNotifyFunc)

// Callback is an event subscriber. It sees the committed state and
// may register side effects to run outside the store lock.
type Callback func(state *State, addSideEffect AddSideEffectFunc)

// MutationCallback is a mutation subscriber. It sees the coherent
// mid-mutate state and may accumulate further changes.
type MutationCallback func(state *State, notify NotifyFunc, mutationState *MutationState, mutationNotify MutationNotifyFunc)

type subscriber struct {
	events   []Event
	callback Callback
}

type mutationSubscriber struct {
	events   []MutationEvent
	callback MutationCallback
}

// Store owns the state tree and serializes all mutations to it.
type Store struct {
	// mutateMu serializes mutates including their event dispatch so
	// that observers see states in commit order.
	mutateMu sync.Mutex
	// stateMu guards state for concurrent readers.
	stateMu sync.RWMutex
	state   *State

	subscribersMu       sync.Mutex
	subscribers         map[uint32]*subscriber
	mutationSubscribers map[uint32]*mutationSubscriber
	mutationOrder       []uint32
}

// New creates a Store with an empty state tree
func New() *Store {
	return &Store{
		state:               NewState(),
		subscribers:         make(map[uint32]*subscriber),
		mutationSubscribers: make(map[uint32]*mutationSubscriber),
	}
}

// Subscribe registers callback for the given events and returns the
// subscription id.
func (s *Store) Subscribe(events []Event, callback Callback) uint32 {
	id := NextId()
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	s.subscribers[id] = &subscriber{events: events, callback: callback}
	return id
}

// Unsubscribe removes a subscription. The id is never reused.
func (s *Store) Unsubscribe(id uint32) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	delete(s.subscribers, id)
}

// SubscribeMutation registers callback for the given mutation events.
func (s *Store) SubscribeMutation(events []MutationEvent, callback MutationCallback) uint32 {
	id := NextId()
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	s.mutationSubscribers[id] = &mutationSubscriber{events: events, callback: callback}
	s.mutationOrder = append(s.mutationOrder, id)
	return id
}

// UnsubscribeMutation removes a mutation subscription.
func (s *Store) UnsubscribeMutation(id uint32) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	delete(s.mutationSubscribers, id)
	for i, subscriberId := range s.mutationOrder {
		if subscriberId == id {
			s.mutationOrder = append(s.mutationOrder[:i], s.mutationOrder[i+1:]...)
			break
		}
	}
}

// WithState calls f with the state under a read lock. f must not
// mutate the state or call Mutate.
func (s *Store) WithState(f func(state *State)) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	f(s.state)
}

// Mutate runs f against the state inside the critical section, then
// dispatches the queued events to subscribers and finally runs the
// collected side effects outside all locks.
//
// f must be synchronous and must not await I/O.
func (s *Store) Mutate(f MutateFunc) {
	s.mutateMu.Lock()

	var queuedEvents []Event
	queuedSet := make(map[Event]bool)
	notify := func(event Event) {
		if !queuedSet[event] {
			queuedSet[event] = true
			queuedEvents = append(queuedEvents, event)
		}
	}

	mutationState := &MutationState{}

	var mutationNotify MutationNotifyFunc
	mutationNotify = func(event MutationEvent, state *State, mutationState *MutationState) {
		for _, sub := range s.mutationSubscribersFor(event) {
			sub(state, notify, mutationState, mutationNotify)
		}
	}

	s.stateMu.Lock()
	f(s.state, notify, mutationState, mutationNotify)
	s.stateMu.Unlock()

	// Dispatch events to subscribers under a read lock so they see
	// the committed state, collecting side effects.
	var sideEffects []SideEffect
	addSideEffect := func(sideEffect SideEffect) {
		sideEffects = append(sideEffects, sideEffect)
	}
	for _, event := range queuedEvents {
		for _, callback := range s.subscribersFor(event) {
			s.stateMu.RLock()
			callback(s.state, addSideEffect)
			s.stateMu.RUnlock()
		}
	}

	s.mutateMu.Unlock()

	// Side effects run outside all locks - they may call Mutate
	// again.
	for _, sideEffect := range sideEffects {
		sideEffect()
	}
}

// subscribersFor snapshots the callbacks subscribed to event.
func (s *Store) subscribersFor(event Event) []Callback {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	var callbacks []Callback
	for _, sub := range s.subscribers {
		for _, e := range sub.events {
			if e == event {
				callbacks = append(callbacks, sub.callback)
				break
			}
		}
	}
	return callbacks
}

// mutationSubscribersFor snapshots the callbacks subscribed to a
// mutation event in subscription order.
func (s *Store) mutationSubscribersFor(event MutationEvent) []MutationCallback {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	var callbacks []MutationCallback
	for _, id := range s.mutationOrder {
		sub, ok := s.mutationSubscribers[id]
		if !ok {
			continue
		}
		for _, e := range sub.events {
			if e == event {
				callbacks = append(callbacks, sub.callback)
				break
			}
		}
	}
	return callbacks
}
