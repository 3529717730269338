package dialogs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclone/vault/store"
)

func openDialog(t *testing.T, s *Service, st *store.Store, options Options) (uint32, chan struct {
	value string
	err   error
}) {
	result := make(chan struct {
		value string
		err   error
	}, 1)
	go func() {
		value, err := s.Show(context.Background(), options)
		result <- struct {
			value string
			err   error
		}{value, err}
	}()

	var id uint32
	require.Eventually(t, func() bool {
		found := false
		st.WithState(func(state *store.State) {
			for dialogId := range state.Dialogs.Dialogs {
				id = dialogId
				found = true
			}
		})
		return found
	}, 5*time.Second, 5*time.Millisecond)
	return id, result
}

func TestPromptConfirm(t *testing.T) {
	st := store.New()
	s := NewService(st)

	id, result := openDialog(t, s, st, Options{
		Type:        store.DialogPrompt,
		Title:       "New folder",
		InputValue:  "folder",
		ConfirmText: "Create",
	})

	s.SetInputValue(id, "My docs")
	s.Confirm(id)

	res := <-result
	require.NoError(t, res.err)
	assert.Equal(t, "My docs", res.value)

	// the dialog is gone
	st.WithState(func(state *store.State) {
		assert.Empty(t, state.Dialogs.Dialogs)
		assert.Empty(t, state.Dialogs.Order)
	})
}

func TestPromptCancel(t *testing.T) {
	st := store.New()
	s := NewService(st)

	id, result := openDialog(t, s, st, Options{Type: store.DialogConfirm, Title: "Delete?"})

	s.Cancel(id)

	res := <-result
	assert.Equal(t, ErrCanceled, res.err)
}

func TestPromptValidation(t *testing.T) {
	st := store.New()
	s := NewService(st)

	id, result := openDialog(t, s, st, Options{
		Type:       store.DialogPrompt,
		Title:      "Name",
		InputValue: "",
		Validator: func(value string) bool {
			return value != ""
		},
	})

	st.WithState(func(state *store.State) {
		assert.False(t, state.Dialogs.Dialogs[id].IsInputValueValid)
	})

	// confirming with an invalid value does nothing
	s.Confirm(id)
	select {
	case <-result:
		t.Fatal("dialog must not resolve with invalid input")
	case <-time.After(50 * time.Millisecond):
	}

	s.SetInputValue(id, "ok")
	st.WithState(func(state *store.State) {
		assert.True(t, state.Dialogs.Dialogs[id].IsInputValueValid)
	})
	s.Confirm(id)

	res := <-result
	require.NoError(t, res.err)
	assert.Equal(t, "ok", res.value)
}
