// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransport_Memory(t *testing.T) {
	tr := NewMemoryTransport()
	rcv := make(chan Envelope, 1)
	s, err := tr.Subscribe(t.Context(), "node-a", func(ctx context.Context, env Envelope) ([]byte, error) {
		rcv <- env
		return []byte("pong"), nil
	})
	require.NoError(t, err)
	require.NotNil(t, s)

	resp, err := tr.Request(t.Context(), Envelope{
		Node: "node-a",
		Data: []byte("hello"),
		Type: "banana",
	})
	require.NoError(t, err)
	require.Equal(t, "pong", string(resp))

	select {
	case <-time.After(time.Second):
		t.Fatal("no message received")
	case env := <-rcv:
		require.Equal(t, "hello", string(env.Data))
		require.NotEmpty(t, env.ReplyTo)
	}

	require.NoError(t, s.Unsubscribe())
	_, err = tr.Request(t.Context(), Envelope{Node: "node-a"})
	require.ErrorIs(t, err, ErrNoSubscriber)
	require.NoError(t, tr.Close())
}

func TestTransport_Memory_handler_error(t *testing.T) {
	tr := NewMemoryTransport()
	_, err := tr.Subscribe(t.Context(), "node-a", func(ctx context.Context, env Envelope) ([]byte, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)

	_, err = tr.Request(t.Context(), Envelope{Node: "node-a"})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "boom", remote.Message)
	require.NoError(t, tr.Close())
}

func TestTransport_Memory_timeout(t *testing.T) {
	tr := NewMemoryTransport()
	_, err := tr.Subscribe(t.Context(), "node-a", func(ctx context.Context, env Envelope) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Request(ctx, Envelope{Node: "node-a"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, tr.Close())
}

func TestTransport_Memory_closed(t *testing.T) {
	tr := NewMemoryTransport()
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Subscribe(t.Context(), "node-a", nil)
	require.ErrorIs(t, err, ErrTransportClosed)
	_, err = tr.Request(t.Context(), Envelope{Node: "node-a"})
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestTransport_Memory_unsubscribe_on_cancel(t *testing.T) {
	tr := NewMemoryTransport()
	ctx, cancel := context.WithCancel(t.Context())
	_, err := tr.Subscribe(ctx, "node-a", func(context.Context, Envelope) ([]byte, error) {
		return nil, nil
	})
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		_, err := tr.Request(t.Context(), Envelope{Node: "node-a"})
		return errors.Is(err, ErrNoSubscriber)
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, tr.Close())
}
