package native

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_InvokeOnce(t *testing.T) {
	r := NewRelay(nil)

	var calls int
	var got json.RawMessage
	id := r.Register(func(err error, value json.RawMessage) {
		calls++
		assert.NoError(t, err)
		got = value
	})
	assert.Equal(t, 1, r.Pending())

	require.NoError(t, r.Invoke(id, nil, json.RawMessage(`{"ok":true}`)))
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"ok":true}`, string(got))
	assert.Equal(t, 0, r.Pending())

	err := r.Invoke(id, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCallback)
	assert.Equal(t, 1, calls)
}

func TestRelay_InvokeWithError(t *testing.T) {
	r := NewRelay(nil)

	var got error
	id := r.Register(func(err error, _ json.RawMessage) { got = err })

	msg := "permission denied"
	require.NoError(t, r.Invoke(id, &msg, nil))

	var he *HostError
	require.True(t, errors.As(got, &he))
	assert.Equal(t, "permission denied", he.Message)
	assert.Equal(t, "host: permission denied", got.Error())
}

func TestRelay_UnknownID(t *testing.T) {
	r := NewRelay(nil)

	err := r.Invoke("missing", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCallback)
	assert.Contains(t, err.Error(), "missing")
}

func TestRelay_Register_UniqueIDs(t *testing.T) {
	r := NewRelay(nil)
	a := r.Register(func(error, json.RawMessage) {})
	b := r.Register(func(error, json.RawMessage) {})
	assert.NotEqual(t, a, b)
}

func TestRelay_Cancel(t *testing.T) {
	r := NewRelay(nil)
	id := r.Register(func(error, json.RawMessage) { t.Fatal("cancelled callback fired") })

	assert.True(t, r.Cancel(id))
	assert.False(t, r.Cancel(id))
	assert.ErrorIs(t, r.Invoke(id, nil, nil), ErrUnknownCallback)
}

func TestRelay_Await(t *testing.T) {
	r := NewRelay(nil)
	id, wait := r.Await()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.Invoke(id, nil, json.RawMessage(`42`))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	value, err := wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", string(value))
}

func TestRelay_Await_ContextDone(t *testing.T) {
	r := NewRelay(nil)
	id, wait := r.Await()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Pending())
	assert.ErrorIs(t, r.Invoke(id, nil, nil), ErrUnknownCallback)
}
