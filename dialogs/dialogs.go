// Package dialogs manages input-validated prompts consumed by
// services. A dialog resolves with its input value on confirm and
// with nothing on cancel.
package dialogs

import (
	"context"
	"errors"
	"sync"

	"github.com/rclone/vault/store"
)

// ErrCanceled is returned when the user dismisses a dialog
var ErrCanceled = errors.New("canceled")

// InputValidator decides whether the current input value allows
// confirming.
type InputValidator func(value string) bool

// Options describe a dialog to show
type Options struct {
	Type             store.DialogType
	Title            string
	Message          string
	InputValue       string
	InputPlaceholder string
	ConfirmText      string
	ConfirmStyle     store.ConfirmStyle
	CancelText       string
	Validator        InputValidator
}

type pendingDialog struct {
	validator InputValidator
	result    chan *string
}

// Service shows dialogs and delivers their results
type Service struct {
	store *store.Store

	mu      sync.Mutex
	pending map[uint32]*pendingDialog
}

// NewService creates a dialogs Service
func NewService(st *store.Store) *Service {
	return &Service{
		store:   st,
		pending: make(map[uint32]*pendingDialog),
	}
}

// Show opens a dialog and blocks until it is confirmed or canceled.
// Confirm resolves with the input value, cancel with ErrCanceled.
func (s *Service) Show(ctx context.Context, options Options) (string, error) {
	id := store.NextId()

	validator := options.Validator
	if validator == nil {
		validator = func(string) bool { return true }
	}

	pending := &pendingDialog{
		validator: validator,
		result:    make(chan *string, 1),
	}
	s.mu.Lock()
	s.pending[id] = pending
	s.mu.Unlock()

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventDialogs)
		state.Dialogs.Dialogs[id] = &store.Dialog{
			Id:                id,
			Type:              options.Type,
			Title:             options.Title,
			Message:           options.Message,
			InputValue:        options.InputValue,
			InputPlaceholder:  options.InputPlaceholder,
			ConfirmText:       options.ConfirmText,
			ConfirmStyle:      options.ConfirmStyle,
			CancelText:        options.CancelText,
			IsInputValueValid: validator(options.InputValue),
		}
		state.Dialogs.Order = append(state.Dialogs.Order, id)
	})

	defer s.remove(id)

	select {
	case value := <-pending.result:
		if value == nil {
			return "", ErrCanceled
		}
		return *value, nil
	case <-ctx.Done():
		return "", ErrCanceled
	}
}

func (s *Service) remove(id uint32) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		if _, ok := state.Dialogs.Dialogs[id]; !ok {
			return
		}
		notify(store.EventDialogs)
		delete(state.Dialogs.Dialogs, id)
		for i, dialogId := range state.Dialogs.Order {
			if dialogId == id {
				state.Dialogs.Order = append(state.Dialogs.Order[:i], state.Dialogs.Order[i+1:]...)
				break
			}
		}
	})
}

// SetInputValue updates the input value of an open dialog and
// re-runs its validator.
func (s *Service) SetInputValue(id uint32, value string) {
	s.mu.Lock()
	pending := s.pending[id]
	s.mu.Unlock()
	if pending == nil {
		return
	}
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		dialog, ok := state.Dialogs.Dialogs[id]
		if !ok {
			return
		}
		notify(store.EventDialogs)
		dialog.InputValue = value
		dialog.IsInputValueValid = pending.validator(value)
	})
}

// Confirm resolves an open dialog with its current input value. An
// invalid input value is ignored.
func (s *Service) Confirm(id uint32) {
	var value string
	valid := false
	s.store.WithState(func(state *store.State) {
		if dialog, ok := state.Dialogs.Dialogs[id]; ok {
			value = dialog.InputValue
			valid = dialog.IsInputValueValid
		}
	})
	if !valid {
		return
	}
	s.mu.Lock()
	pending := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if pending != nil {
		pending.result <- &value
	}
}

// Cancel resolves an open dialog with nothing
func (s *Service) Cancel(id uint32) {
	s.mu.Lock()
	pending := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if pending != nil {
		pending.result <- nil
	}
}
