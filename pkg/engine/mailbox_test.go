package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailboxSendThenReceive(t *testing.T) {
	mb := NewMailbox()
	require.True(t, mb.IsEmpty())

	msg := Message{Chunks: []Chunk{"0_0"}, SrcBuf: BufferInput, DstBuf: BufferOutput, DstOff: 1}
	mb.Send(msg)
	require.False(t, mb.IsEmpty())

	ctx := context.Background()
	got, ok := mb.Receive(ctx)
	require.True(t, ok)
	require.Equal(t, msg, got)
	require.True(t, mb.IsEmpty())
}

func TestMailboxReceiveTimesOutWhenEmpty(t *testing.T) {
	mb := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, ok := mb.Receive(ctx)
	require.False(t, ok)
}

func TestMailboxFIFOOrdering(t *testing.T) {
	mb := NewMailbox()
	mb.Send(Message{Chunks: []Chunk{"a"}})
	mb.Send(Message{Chunks: []Chunk{"b"}})

	ctx := context.Background()
	first, ok := mb.Receive(ctx)
	require.True(t, ok)
	require.Equal(t, []Chunk{"a"}, first.Chunks)

	second, ok := mb.Receive(ctx)
	require.True(t, ok)
	require.Equal(t, []Chunk{"b"}, second.Chunks)
}
