package engine

import (
	"context"
	"sync"
	"time"
)

// MaxTries and SleepTime bound every polling wait in the engine; their
// product is the deadlock-detection window (~100ms by default).
const (
	MaxTries  = 100000
	SleepTime = time.Microsecond
)

// Chunk is the opaque unit of transfer: a symbolic identifier
// compared only by equality, never interpreted numerically.
type Chunk = string

// Message is what one send/rcs enqueues and one recv/rcs dequeues.
// The buffer/offset metadata travels with the payload so the
// receiver can assert the sender's intent matches its own
// instruction.
type Message struct {
	Chunks []Chunk
	SrcBuf BufferKind
	SrcOff int
	DstBuf BufferKind
	DstOff int
}

// Mailbox is a single-producer/single-consumer FIFO of Message. Send
// never blocks; Receive polls up to MaxTries times so that a send
// that never arrives surfaces as a timeout rather than a hang.
type Mailbox struct {
	mu    sync.Mutex
	inbox []Message
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Send enqueues msg. It never fails.
func (m *Mailbox) Send(msg Message) {
	m.mu.Lock()
	m.inbox = append(m.inbox, msg)
	m.mu.Unlock()
}

// Receive dequeues the front message, polling up to MaxTries times
// with SleepTime backoff between attempts and for at most
// MaxTries*SleepTime in total. It returns ok=false if the budget is
// exhausted, or if ctx is cancelled first.
func (m *Mailbox) Receive(ctx context.Context) (msg Message, ok bool) {
	deadline := time.Now().Add(MaxTries * SleepTime)
	for tries := 0; tries < MaxTries && time.Now().Before(deadline); tries++ {
		m.mu.Lock()
		if len(m.inbox) > 0 {
			msg = m.inbox[0]
			m.inbox = m.inbox[1:]
			m.mu.Unlock()
			return msg, true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-time.After(SleepTime):
		}
	}
	return Message{}, false
}

// IsEmpty returns a lock-guarded snapshot of the inbox's emptiness.
func (m *Mailbox) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbox) == 0
}
