package shutdown

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdown_ReverseOrderAndOnce(t *testing.T) {
	m := NewManager(quietLogger())
	var order []string
	m.OnShutdown("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.OnShutdown("journal", Closer(closerFunc(func() error { order = append(order, "journal"); return nil })))
	m.OnShutdown("nil", nil)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"journal", "store"}, order)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Len(t, order, 2)
}

func TestShutdown_ContinuesAfterError(t *testing.T) {
	m := NewManager(quietLogger())
	boom := errors.New("boom")
	var closed bool
	m.OnShutdown("first", func(context.Context) error { closed = true; return nil })
	m.OnShutdown("second", func(context.Context) error { return boom })

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, closed)
}

func TestShutdown_ExpiredContext(t *testing.T) {
	m := NewManager(quietLogger())
	var called bool
	m.OnShutdown("x", func(context.Context) error { called = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Shutdown(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestShutdown_Empty(t *testing.T) {
	assert.NoError(t, NewManager(nil).Shutdown(context.Background()))
}
