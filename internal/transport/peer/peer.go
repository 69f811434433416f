// Package peer models a direct device-to-device channel once signaling has
// completed: offers, answers and ICE candidates travel through servers via
// ESTABLISH_CONNECTION relay, and what comes out the other side is a pipe
// that frames can be pushed through. The in-process implementation backs
// sessions and tests; it satisfies the same Conn contract as a federation
// link, so dispatch treats both alike (apart from the shorter timeout).
package peer

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("peer channel closed")

const inboxSize = 64

// End is one side of an established peer channel.
type End struct {
	addr   string
	remote *End
	inbox  chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewPair links two ends together; a frame sent on one arrives in the
// other's inbox.
func NewPair(addrA, addrB string) (*End, *End) {
	a := &End{addr: addrA, inbox: make(chan []byte, inboxSize), done: make(chan struct{})}
	b := &End{addr: addrB, inbox: make(chan []byte, inboxSize), done: make(chan struct{})}
	a.remote = b
	b.remote = a
	return a, b
}

func (e *End) Addr() string { return e.addr }

// Send delivers a frame to the remote end.
func (e *End) Send(ctx context.Context, data []byte) error {
	select {
	case <-e.done:
		return ErrClosed
	case <-e.remote.done:
		return ErrClosed
	default:
	}
	select {
	case e.remote.inbox <- data:
		return nil
	case <-e.remote.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve drains inbound frames into handle until the channel closes.
func (e *End) Serve(handle func(data []byte)) {
	for {
		select {
		case data := <-e.inbox:
			handle(data)
		case <-e.done:
			return
		}
	}
}

func (e *End) Close() {
	e.once.Do(func() { close(e.done) })
}

func (e *End) Done() <-chan struct{} { return e.done }
