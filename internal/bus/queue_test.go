package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueTryPublishFull(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	if err := q.TryPublish(3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overflow mismatch: got %v want %v", err, ErrQueueFull)
	}
	require.Equal(t, 2, q.Len())
	require.Equal(t, 2, q.Cap())

	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestQueuePublishBlocksUntilContextDone(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.TryPublish(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_, _ = q.TryPop()
	}()
	require.NoError(t, q.Publish(context.Background(), 3))
}

func TestQueueCloseDrainsRemaining(t *testing.T) {
	q := NewQueue[int](4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	q.Close()
	require.True(t, q.Closed())
	require.ErrorIs(t, q.TryPublish(9), ErrQueueClosed)
	require.ErrorIs(t, q.Publish(context.Background(), 9), ErrQueueClosed)

	var got []int
	q.Run(context.Background(), func(v int) { got = append(got, v) })
	require.Equal(t, []int{1, 2, 3}, got)
}
