// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client talks to an ECU from the host side.
//
// A Client owns the framer of one connection. Run receives frames and hands
// replies to the pending requests that wait for them; everything else is
// delivered on Events.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/pbstx"
	"github.com/Thermoquad/miniecu/pkg/session"
	"github.com/golang/glog"
)

var (
	// ErrTimeout is returned when a reply did not arrive in time
	ErrTimeout = errors.New("no reply from ECU")
	// ErrClosed is returned once the connection has failed
	ErrClosed = errors.New("connection closed")
)

// DefaultTimeout bounds a request when the context has no deadline
const DefaultTimeout = 2 * time.Second

const (
	eventBuffer  = 64
	waiterBuffer = 256
)

// waiter receives the messages accepted by match
type waiter struct {
	match func(m msgs.Message) bool
	ch    chan msgs.Message
}

// Client is the host end of an ECU link
type Client struct {
	// EngineID addresses requests
	EngineID uint32
	// Timeout applies to requests without a context deadline
	Timeout time.Duration

	name   string
	framer *pbstx.Framer
	events chan msgs.Message
	closed chan struct{}
	err    error

	mu        sync.Mutex
	waiters   map[*waiter]struct{}
	observers []session.Observer
	dropped   int
	streamID  uint32
}

// New creates a client over a duplex stream. name labels the link in
// observer events.
func New(name string, rw io.ReadWriter, engineID uint32) *Client {
	return &Client{
		EngineID: engineID,
		Timeout:  DefaultTimeout,
		name:     name,
		framer:   pbstx.NewFramer(rw, nil),
		events:   make(chan msgs.Message, eventBuffer),
		closed:   make(chan struct{}),
		waiters:  make(map[*waiter]struct{}),
	}
}

// Events delivers messages no request waited for: Status, StatusText and
// unsolicited ParamValue broadcasts. It is closed when Run returns.
func (c *Client) Events() <-chan msgs.Message {
	return c.events
}

// Statistics returns the framer counters
func (c *Client) Statistics() *pbstx.Statistics {
	return c.framer.Statistics()
}

// Dropped returns the number of events lost because nobody read them
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// AddObserver registers an observer for every message sent or received
func (c *Client) AddObserver(o session.Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Client) notify(dir session.Direction, m msgs.Message, payload []byte) {
	c.mu.Lock()
	observers := c.observers
	c.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	ev := session.Event{Time: time.Now(), Direction: dir, Endpoint: c.name, Message: m, Payload: payload}
	for _, o := range observers {
		o.Observe(ev)
	}
}

// Run receives until ctx is done or the stream fails
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.framer.Close()

	for {
		frame, err := c.framer.Receive(ctx)
		if err != nil {
			var ce *pbstx.ChecksumError
			switch {
			case errors.Is(err, pbstx.ErrTimeout):
				continue
			case errors.As(err, &ce), errors.Is(err, pbstx.ErrOverflow):
				glog.V(1).Infof("client: %v", err)
				continue
			}
			c.err = err
			close(c.closed)
			return err
		}

		m, err := msgs.Decode(frame.Payload)
		if err != nil {
			glog.V(1).Infof("client: seq %d: %v", frame.Seq, err)
			continue
		}
		c.notify(session.Rx, m, frame.Payload)
		c.deliver(m)
	}
}

func (c *Client) deliver(m msgs.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for w := range c.waiters {
		if w.match(m) {
			select {
			case w.ch <- m:
			default:
				c.dropped++
			}
			return
		}
	}

	select {
	case c.events <- m:
	default:
		c.dropped++
	}
}

// Send encodes and sends one message. Observers see it before the write so
// the reply cannot be recorded ahead of it.
func (c *Client) Send(m msgs.Message) error {
	payload := msgs.Encode(m)
	c.notify(session.Tx, m, payload)
	if err := c.framer.Send(payload); err != nil {
		glog.V(1).Infof("client: send %s: %v", m.Tag(), err)
		return err
	}
	return nil
}

func (c *Client) wait(match func(m msgs.Message) bool) (*waiter, func()) {
	w := &waiter{match: match, ch: make(chan msgs.Message, waiterBuffer)}
	c.mu.Lock()
	c.waiters[w] = struct{}{}
	c.mu.Unlock()
	return w, func() {
		c.mu.Lock()
		delete(c.waiters, w)
		c.mu.Unlock()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// next returns the next accepted message
func (c *Client) next(ctx context.Context, w *waiter) (msgs.Message, error) {
	select {
	case m := <-w.ch:
		return m, nil
	case <-c.closed:
		return nil, fmt.Errorf("%w: %v", ErrClosed, c.err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// request sends m and returns the first reply accepted by match
func (c *Client) request(ctx context.Context, m msgs.Message, match func(m msgs.Message) bool) (msgs.Message, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	w, done := c.wait(match)
	defer done()

	if err := c.Send(m); err != nil {
		return nil, err
	}
	return c.next(ctx, w)
}
