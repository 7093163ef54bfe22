package backend

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestActionString(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{ActionInit, "Init"},
		{ActionFini, "Fini"},
		{ActionRead, "Read"},
		{ActionCreateIterPrefix, "CreateIterPrefix"},
		{ActionInternal, "Internal"},
		{Action(99), "Action(99)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.action.String())
	}
}

func TestNewError(t *testing.T) {
	assert.NoError(t, NewError(ActionRead, nil))

	err := NewError(ActionOpen, fs.ErrNotExist)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, "BackendError in Open: file does not exist", err.Error())
}

func TestErrorf(t *testing.T) {
	err := Errorf(ActionInternal, "object %d: %w", 5, ErrNotCached)
	assert.ErrorIs(t, err, ErrNotCached)
	assert.Equal(t, "BackendError in Internal: object 5: "+ErrNotCached.Error(), err.Error())

	plain := Errorf(ActionInit, "no cause")
	assert.Equal(t, "BackendError in Init: no cause", plain.Error())
	assert.Nil(t, errors.Unwrap(plain))
}

func TestWithAction(t *testing.T) {
	assert.NoError(t, WithAction(nil, ActionRead))

	inner := Errorf(ActionInternal, "object 1: %w", ErrNotCached)
	err := WithAction(inner, ActionClose)
	assert.Equal(t, ActionClose, ActionOf(err))
	assert.ErrorIs(t, err, ErrNotCached)
	assert.Contains(t, err.Error(), "BackendError in Close: object 1")

	raw := WithAction(unix.EISDIR, ActionRead)
	assert.Equal(t, ActionRead, ActionOf(raw))
	assert.ErrorIs(t, raw, unix.EISDIR)
}

func TestActionOfUntagged(t *testing.T) {
	assert.Equal(t, ActionInternal, ActionOf(errors.New("plain")))
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, CheckRange(0, 0))
	assert.NoError(t, CheckRange(1<<62, 1<<62-1))
	assert.ErrorIs(t, CheckRange(1<<63, 0), unix.EOVERFLOW)
	assert.ErrorIs(t, CheckRange(1<<62, 1<<62), unix.EOVERFLOW)
	assert.ErrorIs(t, CheckRange(1, ^uint64(0)), unix.EOVERFLOW)
}

func TestClampAndMalformed(t *testing.T) {
	buf := make([]byte, 4)
	assert.Equal(t, uint64(4), ClampLength(buf, 10))
	assert.Equal(t, uint64(2), ClampLength(buf, 2))
	assert.Zero(t, ClampLength(nil, 2))

	assert.False(t, MalformedWrite(buf, 4))
	assert.False(t, MalformedWrite(buf, 0))
	assert.True(t, MalformedWrite(buf, 5))
}
