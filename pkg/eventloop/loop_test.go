package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunExecutesInPostOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	var got []int
	for i := 1; i <= 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	done := make(chan struct{})
	l.Post(func() { close(done) })

	go l.Run(ctx)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not drain")
	}
	cancel()

	require.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestAfterRunsOnLoop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.After(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("After callback never ran")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
