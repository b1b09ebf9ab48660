package engine

import (
	"context"
	"sync"
	"time"
)

type mailboxKey struct {
	SendRank, RecvRank, Chan int
}

// MailboxManager implements the two-phase rendezvous that lets the
// two threadblocks at either end of a channel — which initialize in
// parallel, in no particular order — discover a shared mailbox.
type MailboxManager struct {
	mu          sync.Mutex
	pending     map[mailboxKey]*Mailbox
	established map[mailboxKey]*Mailbox
}

// NewMailboxManager returns an empty manager.
func NewMailboxManager() *MailboxManager {
	return &MailboxManager{
		pending:     make(map[mailboxKey]*Mailbox),
		established: make(map[mailboxKey]*Mailbox),
	}
}

// GetSendMailbox never blocks: it returns the established mailbox for
// (send,recv,chan) if one exists, else creates and registers a
// pending one for a receiver to claim later. created reports whether
// a fresh mailbox was just made.
func (m *MailboxManager) GetSendMailbox(sendRank, recvRank, chanID int) (mailbox *Mailbox, created bool) {
	key := mailboxKey{sendRank, recvRank, chanID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mb, ok := m.established[key]; ok {
		return mb, false
	}
	mb := NewMailbox()
	m.pending[key] = mb
	return mb, true
}

// GetRecvMailbox polls up to MaxTries times for a pending entry at
// (send,recv,chan), for at most MaxTries*SleepTime in total; on a hit
// it atomically moves the entry to established and returns it. ok is
// false if the budget (or ctx) is exhausted first — the plan named a
// receive for a link no sender ever requested.
func (m *MailboxManager) GetRecvMailbox(ctx context.Context, sendRank, recvRank, chanID int) (mailbox *Mailbox, ok bool) {
	key := mailboxKey{sendRank, recvRank, chanID}
	deadline := time.Now().Add(MaxTries * SleepTime)
	for tries := 0; tries < MaxTries && time.Now().Before(deadline); tries++ {
		m.mu.Lock()
		if mb, found := m.pending[key]; found {
			delete(m.pending, key)
			m.established[key] = mb
			m.mu.Unlock()
			return mb, true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(SleepTime):
		}
	}
	return nil, false
}

// NoPendingConnections reports whether every sender has been paired:
// called once after the group finishes building its ranks.
func (m *MailboxManager) NoPendingConnections() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) == 0
}

// ValidChannelLayout reports whether, within each channel, no rank
// appears twice as sender and none appears twice as receiver.
func (m *MailboxManager) ValidChannelLayout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	senders := make(map[int]map[int]bool)
	receivers := make(map[int]map[int]bool)
	for key := range m.established {
		if senders[key.Chan] == nil {
			senders[key.Chan] = make(map[int]bool)
		}
		if receivers[key.Chan] == nil {
			receivers[key.Chan] = make(map[int]bool)
		}
		if senders[key.Chan][key.SendRank] {
			return false
		}
		if receivers[key.Chan][key.RecvRank] {
			return false
		}
		senders[key.Chan][key.SendRank] = true
		receivers[key.Chan][key.RecvRank] = true
	}
	return true
}

// NoPendingMessages reports whether every established mailbox is
// currently empty — checked after each execution iteration to catch
// orphaned sends.
func (m *MailboxManager) NoPendingMessages() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mb := range m.established {
		if !mb.IsEmpty() {
			return false
		}
	}
	return true
}

// residualLinks returns the (send,recv,chan) keys of established
// mailboxes that still hold a message, for diagnostic reporting.
func (m *MailboxManager) residualLinks() []mailboxKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []mailboxKey
	for key, mb := range m.established {
		if !mb.IsEmpty() {
			keys = append(keys, key)
		}
	}
	return keys
}
