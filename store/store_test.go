package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutateNotifyDeduplicated(t *testing.T) {
	s := New()

	calls := 0
	s.Subscribe([]Event{EventRepos}, func(state *State, addSideEffect AddSideEffectFunc) {
		calls++
	})

	s.Mutate(func(state *State, notify NotifyFunc, _ *MutationState, _ MutationNotifyFunc) {
		notify(EventRepos)
		notify(EventRepos)
		notify(EventRepos)
	})

	assert.Equal(t, 1, calls)
}

func TestMutateEventOrder(t *testing.T) {
	s := New()

	// order of dispatch follows the order of first notify
	var order []Event
	s.Subscribe([]Event{EventRepoFiles}, func(state *State, _ AddSideEffectFunc) {
		order = append(order, EventRepoFiles)
	})
	s.Subscribe([]Event{EventRepos}, func(state *State, _ AddSideEffectFunc) {
		order = append(order, EventRepos)
	})

	s.Mutate(func(state *State, notify NotifyFunc, _ *MutationState, _ MutationNotifyFunc) {
		notify(EventRepoFiles)
		notify(EventRepos)
	})

	assert.Equal(t, []Event{EventRepoFiles, EventRepos}, order)
}

func TestMutationSubscriberSeesMidMutateState(t *testing.T) {
	s := New()

	// the mutation subscriber must observe the local writes before
	// any coarse event fires to external subscribers
	var observedDuringMutation Status
	eventFired := false
	mutationSawEvent := false

	s.SubscribeMutation([]MutationEvent{MutationEventRepos}, func(state *State, notify NotifyFunc, mutationState *MutationState, _ MutationNotifyFunc) {
		observedDuringMutation = state.Repos.Status
		mutationSawEvent = eventFired
		notify(EventRepoFiles)
	})

	s.Subscribe([]Event{EventRepos, EventRepoFiles}, func(state *State, _ AddSideEffectFunc) {
		eventFired = true
	})

	s.Mutate(func(state *State, notify NotifyFunc, mutationState *MutationState, mutationNotify MutationNotifyFunc) {
		notify(EventRepos)
		state.Repos.Status = StatusLoaded
		mutationNotify(MutationEventRepos, state, mutationState)
	})

	assert.Equal(t, StatusLoaded, observedDuringMutation)
	assert.False(t, mutationSawEvent, "mutation subscriber must run before events fire")
	assert.True(t, eventFired)
}

func TestUnsubscribe(t *testing.T) {
	s := New()

	calls := 0
	id := s.Subscribe([]Event{EventRepos}, func(state *State, _ AddSideEffectFunc) {
		calls++
	})

	s.Mutate(func(state *State, notify NotifyFunc, _ *MutationState, _ MutationNotifyFunc) {
		notify(EventRepos)
	})
	require.Equal(t, 1, calls)

	s.Unsubscribe(id)

	s.Mutate(func(state *State, notify NotifyFunc, _ *MutationState, _ MutationNotifyFunc) {
		notify(EventRepos)
	})
	assert.Equal(t, 1, calls)

	// ids are never reused
	id2 := s.Subscribe([]Event{EventRepos}, func(state *State, _ AddSideEffectFunc) {})
	assert.NotEqual(t, id, id2)
	assert.Greater(t, id2, id)
}

func TestSideEffectsRunAfterSubscribers(t *testing.T) {
	s := New()

	var order []string
	s.Subscribe([]Event{EventRepos}, func(state *State, addSideEffect AddSideEffectFunc) {
		order = append(order, "subscriber")
		addSideEffect(func() {
			order = append(order, "side effect")
			// side effects may mutate again
			s.Mutate(func(state *State, _ NotifyFunc, _ *MutationState, _ MutationNotifyFunc) {
				state.Repos.Status = StatusLoaded
			})
		})
	})

	s.Mutate(func(state *State, notify NotifyFunc, _ *MutationState, _ MutationNotifyFunc) {
		notify(EventRepos)
	})

	assert.Equal(t, []string{"subscriber", "side effect"}, order)

	var status Status
	s.WithState(func(state *State) {
		status = state.Repos.Status
	})
	assert.Equal(t, StatusLoaded, status)
}

func TestNextIdMonotonic(t *testing.T) {
	first := NextId()
	second := NextId()
	assert.Greater(t, second, first)
}
