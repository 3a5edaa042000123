// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/golang/glog"
)

// ParamError reports a parameter request the ECU rejected
type ParamError struct {
	ID   string
	Text string
	// Current is the value in effect, when the ECU sent it back
	Current *msgs.ParamValue
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("param %s: %s", e.ID, e.Text)
}

func (c *Client) fromEngine(m msgs.Message) bool {
	return msgs.EngineID(m) == c.EngineID
}

// paramFailures are the diagnostics the ECU emits for a rejected request,
// each followed by the parameter id
var paramFailures = []string{"unknown param", "wrong type", "out of range", "read only"}

// paramReply accepts the ParamValue for id, or a diagnostic about id
func (c *Client) paramReply(id string) func(m msgs.Message) bool {
	return func(m msgs.Message) bool {
		switch v := m.(type) {
		case *msgs.ParamValue:
			return c.fromEngine(m) && v.ParamID == id
		case *msgs.StatusText:
			if !c.fromEngine(m) {
				return false
			}
			for _, f := range paramFailures {
				if v.Text == f+": "+id {
					return true
				}
			}
		}
		return false
	}
}

// echoesValue reports whether the ECU broadcasts the value in effect after
// the diagnostic
func echoesValue(text, id string) bool {
	return text == "out of range: "+id || text == "read only: "+id
}

// paramRequest sends m and waits for the ParamValue or diagnostic about id.
// A rejected set is followed by the value in effect, which is consumed here
// so it cannot answer a later request.
func (c *Client) paramRequest(ctx context.Context, m msgs.Message, id string) (*msgs.ParamValue, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	w, done := c.wait(c.paramReply(id))
	defer done()

	if err := c.Send(m); err != nil {
		return nil, err
	}
	reply, err := c.next(ctx, w)
	if err != nil {
		return nil, err
	}
	st, ok := reply.(*msgs.StatusText)
	if !ok {
		return reply.(*msgs.ParamValue), nil
	}

	perr := &ParamError{ID: id, Text: st.Text}
	if !echoesValue(st.Text, id) {
		return nil, perr
	}
	for {
		reply, err := c.next(ctx, w)
		if err != nil {
			glog.V(1).Infof("client: %s: no value after %q: %v", id, st.Text, err)
			return nil, perr
		}
		if v, ok := reply.(*msgs.ParamValue); ok {
			perr.Current = v
			return nil, perr
		}
	}
}

// GetParam reads one parameter by id. Ids are case sensitive.
func (c *Client) GetParam(ctx context.Context, id string) (*msgs.ParamValue, error) {
	id = param.NormalizeID(id)
	v, err := c.paramRequest(ctx, &msgs.ParamRequest{EngineID: c.EngineID, ParamID: msgs.Ptr(id)}, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return v, nil
}

// GetParamByIndex reads the parameter at a table index
func (c *Client) GetParamByIndex(ctx context.Context, index int) (*msgs.ParamValue, error) {
	match := func(m msgs.Message) bool {
		v, ok := m.(*msgs.ParamValue)
		return ok && c.fromEngine(m) && int(v.ParamIndex) == index
	}
	m, err := c.request(ctx, &msgs.ParamRequest{EngineID: c.EngineID, ParamIndex: msgs.Ptr(int32(index))}, match)
	if err != nil {
		return nil, fmt.Errorf("get #%d: %w", index, err)
	}
	return m.(*msgs.ParamValue), nil
}

// SetParam writes one parameter and returns the value in effect afterwards
func (c *Client) SetParam(ctx context.Context, id string, v param.Value) (*msgs.ParamValue, error) {
	id = param.NormalizeID(id)
	pv, err := c.paramRequest(ctx, &msgs.ParamSet{EngineID: c.EngineID, ParamID: id, Value: v}, id)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", id, err)
	}
	return pv, nil
}

// ListParams reads the whole table, ordered by index
func (c *Client) ListParams(ctx context.Context) ([]*msgs.ParamValue, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	w, done := c.wait(func(m msgs.Message) bool {
		_, ok := m.(*msgs.ParamValue)
		return ok && c.fromEngine(m)
	})
	defer done()

	if err := c.Send(&msgs.ParamRequest{EngineID: c.EngineID}); err != nil {
		return nil, err
	}

	byIndex := make(map[int32]*msgs.ParamValue)
	for {
		m, err := c.next(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("list: %d params received: %w", len(byIndex), err)
		}
		v := m.(*msgs.ParamValue)
		byIndex[v.ParamIndex] = v
		if int32(len(byIndex)) >= v.ParamCount {
			break
		}
	}

	list := make([]*msgs.ParamValue, 0, len(byIndex))
	for _, v := range byIndex {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ParamIndex < list[j].ParamIndex })
	return list, nil
}

// Command requests an operation and waits for its final response.
// IN_PROGRESS replies are skipped.
func (c *Client) Command(ctx context.Context, op msgs.Operation) (msgs.Response, error) {
	match := func(m msgs.Message) bool {
		cmd, ok := m.(*msgs.Command)
		return ok && c.fromEngine(m) && cmd.Operation == op &&
			cmd.Response != msgs.ResponseNone && cmd.Response != msgs.ResponseInProgress
	}
	m, err := c.request(ctx, &msgs.Command{EngineID: c.EngineID, Operation: op}, match)
	if err != nil {
		return msgs.ResponseNone, fmt.Errorf("%s: %w", op, err)
	}
	return m.(*msgs.Command).Response, nil
}

// SetTime sends the host wall-clock time. The reply carries the ECU uptime
// and the correction it applied.
func (c *Client) SetTime(ctx context.Context, t time.Time) (*msgs.TimeReference, error) {
	ts := uint64(t.UnixMilli())
	match := func(m msgs.Message) bool {
		ref, ok := m.(*msgs.TimeReference)
		return ok && c.fromEngine(m) && ref.TimestampMs == ts && ref.SystemTime != nil
	}
	m, err := c.request(ctx, &msgs.TimeReference{EngineID: c.EngineID, TimestampMs: ts}, match)
	if err != nil {
		return nil, fmt.Errorf("time reference: %w", err)
	}
	return m.(*msgs.TimeReference), nil
}

const maxDumpPrealloc = 64 * 1024

// MemoryDump reads size bytes at address. The dump ends early when the ECU
// stops sending pages or reports an error; the bytes received so far are
// returned with the error.
func (c *Client) MemoryDump(ctx context.Context, typ msgs.MemoryType, address, size uint32) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.mu.Lock()
	c.streamID++
	stream := c.streamID
	c.mu.Unlock()

	w, done := c.wait(func(m msgs.Message) bool {
		switch v := m.(type) {
		case *msgs.MemoryDumpPage:
			return c.fromEngine(m) && v.StreamID == stream
		case *msgs.StatusText:
			return c.fromEngine(m) && strings.HasPrefix(v.Text, "MemDump:")
		}
		return false
	})
	defer done()

	req := &msgs.MemoryDumpRequest{EngineID: c.EngineID, Type: typ, StreamID: stream, Address: address, Size: size}
	if err := c.Send(req); err != nil {
		return nil, err
	}

	data := make([]byte, 0, min(size, maxDumpPrealloc))
	for uint32(len(data)) < size {
		m, err := c.next(ctx, w)
		if err != nil {
			return data, fmt.Errorf("memdump at 0x%08x: %w", address+uint32(len(data)), err)
		}
		switch v := m.(type) {
		case *msgs.StatusText:
			return data, fmt.Errorf("memdump: %s", v.Text)
		case *msgs.MemoryDumpPage:
			if v.Address != address+uint32(len(data)) {
				return data, fmt.Errorf("memdump: page at 0x%08x, want 0x%08x", v.Address, address+uint32(len(data)))
			}
			data = append(data, v.Page...)
			if len(v.Page) < msgs.MemoryPageSize && uint32(len(data)) < size {
				// short page: end of memory
				return data, nil
			}
		}
	}
	return data, nil
}
