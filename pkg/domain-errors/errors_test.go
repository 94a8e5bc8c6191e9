package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeNotFound, "group not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeForbidden))
	})

	t.Run("matches wrapped code", func(t *testing.T) {
		inner := New(CodeConflict, "version changed")
		outer := Wrap(inner, CodeInternal, "failed to update group")
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeConflict))
	})

	t.Run("false for plain errors", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil in, nil out", func(t *testing.T) {
		require.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("preserves cause chain", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(fmt.Errorf("ping: %w", cause), CodeInternal, "store unavailable")
		assert.ErrorIs(t, err, cause)
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeForbidden, CodeOf(New(CodeForbidden, "not the leader")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("uncoded")))
}
