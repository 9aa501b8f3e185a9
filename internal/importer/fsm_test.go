package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSM(t *testing.T) {
	t.Run("starts pending", func(t *testing.T) {
		f := NewFSM()
		assert.Equal(t, StatusPending, f.Current())
	})

	t.Run("happy path", func(t *testing.T) {
		f := NewFSM()
		require.NoError(t, f.Transition(StatusCounting))
		require.NoError(t, f.Transition(StatusProcessing))
		require.NoError(t, f.Transition(StatusCompleted))
		assert.Equal(t, StatusCompleted, f.Current())
	})

	t.Run("fails from any non-terminal state", func(t *testing.T) {
		for _, from := range []Status{StatusPending, StatusCounting, StatusProcessing} {
			f := NewFSM(FSMWithInitialStatus(from))
			assert.NoError(t, f.Transition(StatusFailed), "from %s", from)
		}
	})

	t.Run("rejects skipping counting", func(t *testing.T) {
		f := NewFSM()
		assert.ErrorIs(t, f.Transition(StatusProcessing), ErrInvalidTransition)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		f := NewFSM(FSMWithInitialStatus(StatusCompleted))
		assert.ErrorIs(t, f.Transition(StatusFailed), ErrInvalidTransition)

		f = NewFSM(FSMWithInitialStatus(StatusFailed))
		assert.ErrorIs(t, f.Transition(StatusCounting), ErrInvalidTransition)
	})
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusCounting.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}
