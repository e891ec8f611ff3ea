package realtime

import (
	"errors"
	"sync"
)

// DefaultSendQueue is the per-connection queue length used when none is configured.
const DefaultSendQueue = 64

var (
	errQueueFull  = errors.New("send queue full")
	errConnClosed = errors.New("connection closed")
)

// Outbox is the bounded send queue of one connection. Send never blocks: a
// client that cannot keep up with its queue is closed, and the transport's
// writer goroutine tears the connection down when Done fires.
type Outbox struct {
	send      chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	overflow  bool
}

var _ Sender = (*Outbox)(nil)

// NewOutbox returns an open outbox holding up to size envelopes.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultSendQueue
	}
	return &Outbox{send: make(chan Envelope, size), done: make(chan struct{})}
}

// Send queues env or reports why it could not.
func (o *Outbox) Send(env Envelope) error {
	select {
	case <-o.done:
		return errConnClosed
	default:
	}
	select {
	case o.send <- env:
		return nil
	default:
		o.closeOnce.Do(func() {
			o.overflow = true
			close(o.done)
		})
		return errQueueFull
	}
}

// C is drained by the transport's writer.
func (o *Outbox) C() <-chan Envelope { return o.send }

// Done is closed once the outbox is closed.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Overflowed reports whether the outbox was closed because its queue filled
// up. It is only meaningful once Done has fired.
func (o *Outbox) Overflowed() bool {
	<-o.done
	return o.overflow
}

// Close is idempotent. It never closes the queue itself, so concurrent
// senders cannot panic.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}
