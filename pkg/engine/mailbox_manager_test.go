package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailboxManagerRendezvousSameMailbox(t *testing.T) {
	mgr := NewMailboxManager()

	sendMB, created := mgr.GetSendMailbox(0, 1, 0)
	require.True(t, created)
	require.NotNil(t, sendMB)

	ctx := context.Background()
	recvMB, ok := mgr.GetRecvMailbox(ctx, 0, 1, 0)
	require.True(t, ok)
	require.Same(t, sendMB, recvMB)

	require.True(t, mgr.NoPendingConnections())
}

func TestMailboxManagerRendezvousOrderIndependent(t *testing.T) {
	mgr := NewMailboxManager()
	var wg sync.WaitGroup
	var sendMB, recvMB *Mailbox

	wg.Add(2)
	go func() {
		defer wg.Done()
		sendMB, _ = mgr.GetSendMailbox(2, 3, 1)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		recvMB, _ = mgr.GetRecvMailbox(ctx, 2, 3, 1)
	}()
	wg.Wait()

	require.NotNil(t, sendMB)
	require.NotNil(t, recvMB)
	require.Same(t, sendMB, recvMB)
}

func TestMailboxManagerRecvTimesOutWithNoSender(t *testing.T) {
	mgr := NewMailboxManager()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, ok := mgr.GetRecvMailbox(ctx, 5, 6, 0)
	require.False(t, ok)
}

func TestMailboxManagerValidChannelLayoutRejectsDuplicateSender(t *testing.T) {
	mgr := NewMailboxManager()
	mgr.GetSendMailbox(0, 1, 0)
	ctx := context.Background()
	mgr.GetRecvMailbox(ctx, 0, 1, 0)

	mgr.GetSendMailbox(0, 2, 0)
	mgr.GetRecvMailbox(ctx, 0, 2, 0)

	require.False(t, mgr.ValidChannelLayout())
}

func TestMailboxManagerNoPendingConnectionsDetectsOrphan(t *testing.T) {
	mgr := NewMailboxManager()
	mgr.GetSendMailbox(0, 1, 0)
	require.False(t, mgr.NoPendingConnections())
}
