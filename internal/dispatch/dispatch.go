// Package dispatch correlates requests with responses across whatever
// transports a node holds open. Every remote looks the same here: a Conn
// that can push a frame. Timeouts are the caller's signal that a remote is
// unreachable, never an error worth retrying on the same conn.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/protocol"
)

// Peers answer from memory over a direct channel; servers may hit storage,
// so they get more room.
const (
	PeerTimeout   = 1 * time.Second
	ServerTimeout = 5 * time.Second
)

var ErrTimeout = errors.New("request timed out")

// Conn is one reachable remote, either a federated server link or a direct
// peer channel. Send must be safe for concurrent use.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Addr() string
}

type Dispatcher struct {
	log *zap.Logger

	mu      sync.Mutex
	waiting map[string]chan *protocol.Response
}

func New(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		log:     log,
		waiting: make(map[string]chan *protocol.Response),
	}
}

func (d *Dispatcher) register(id string) chan *protocol.Response {
	ch := make(chan *protocol.Response, 1)
	d.mu.Lock()
	d.waiting[id] = ch
	d.mu.Unlock()
	return ch
}

func (d *Dispatcher) drop(id string) {
	d.mu.Lock()
	delete(d.waiting, id)
	d.mu.Unlock()
}

// HandleResponse routes an incoming response to its waiter. Responses that
// arrive after the requester gave up are dropped.
func (d *Dispatcher) HandleResponse(resp *protocol.Response) {
	d.mu.Lock()
	ch, ok := d.waiting[resp.RequestID]
	if ok {
		delete(d.waiting, resp.RequestID)
	}
	d.mu.Unlock()
	if !ok {
		d.log.Debug("dropping late response", zap.String("requestId", resp.RequestID))
		return
	}
	ch <- resp
}

// Do sends req over conn and waits for the correlated response.
func (d *Dispatcher) Do(ctx context.Context, conn Conn, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	ch := d.register(req.ID)
	defer d.drop(req.ID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Broadcast pushes the same request to every conn without waiting for
// answers. Send failures are logged and skipped.
func (d *Dispatcher) Broadcast(ctx context.Context, conns []Conn, t protocol.RequestType, payload any) {
	for _, conn := range conns {
		req, err := protocol.NewRequest(t, payload)
		if err != nil {
			d.log.Warn("broadcast payload not serializable", zap.Error(err))
			return
		}
		data, err := json.Marshal(req)
		if err != nil {
			return
		}
		if err := conn.Send(ctx, data); err != nil {
			d.log.Debug("broadcast send failed",
				zap.String("addr", conn.Addr()), zap.Error(err))
		}
	}
}

// Result pairs a response with the conn that produced it.
type Result struct {
	Conn     Conn
	Response *protocol.Response
}

// FanOut sends the request to every conn concurrently, each under its own
// correlation id, and collects whatever arrives within timeout in arrival
// order. Remotes that time out or fail simply do not appear in the result.
func (d *Dispatcher) FanOut(ctx context.Context, conns []Conn, t protocol.RequestType, payload any, timeout time.Duration) []Result {
	results := make(chan Result, len(conns))
	var wg sync.WaitGroup
	for _, conn := range conns {
		req, err := protocol.NewRequest(t, payload)
		if err != nil {
			d.log.Warn("fan-out payload not serializable", zap.Error(err))
			return nil
		}
		wg.Add(1)
		go func(conn Conn, req *protocol.Request) {
			defer wg.Done()
			resp, err := d.Do(ctx, conn, req, timeout)
			if err != nil {
				d.log.Debug("fan-out request failed",
					zap.String("addr", conn.Addr()),
					zap.String("type", string(t)),
					zap.Error(err))
				return
			}
			results <- Result{Conn: conn, Response: resp}
		}(conn, req)
	}
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(conns))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// Sequential tries conns one at a time, splitting budget evenly across all
// of them, until accept approves a response. A rejected or late answer
// moves on to the next conn; it never eats into the others' share.
func (d *Dispatcher) Sequential(ctx context.Context, conns []Conn, t protocol.RequestType, payload any, budget time.Duration, accept func(*protocol.Response) error) (*Result, error) {
	if len(conns) == 0 {
		return nil, ErrTimeout
	}
	slice := budget / time.Duration(len(conns))
	var lastErr error = ErrTimeout
	for _, conn := range conns {
		req, err := protocol.NewRequest(t, payload)
		if err != nil {
			return nil, err
		}
		resp, err := d.Do(ctx, conn, req, slice)
		if err != nil {
			lastErr = err
			continue
		}
		if err := accept(resp); err != nil {
			d.log.Debug("response rejected",
				zap.String("addr", conn.Addr()),
				zap.String("type", string(t)),
				zap.Error(err))
			lastErr = err
			continue
		}
		return &Result{Conn: conn, Response: resp}, nil
	}
	return nil, lastErr
}
