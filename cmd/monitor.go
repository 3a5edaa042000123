// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/Thermoquad/miniecu/pkg/client"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and configuring an ECU",
	Long: `Monitor an ECU via an interactive terminal UI.

Features:
  - Live status (flags, RPM, battery, temperatures, fuel)
  - Parameter table with in-place editing
  - Ignition, starter and emergency stop commands
  - Diagnostics log (STATUS_TEXT)
  - Automatic reconnection on connection loss

Tab switches between the parameter table and the value input. Arrow keys
navigate the table, Enter edits the selected parameter.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	mu       sync.RWMutex
	session  *hostSession
	ctx      context.Context
	connInfo string

	p    *tea.Program
	done chan struct{}
}

func (cm *connectionManager) client() *client.Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.session == nil {
		return nil
	}
	return cm.session.Client
}

func (cm *connectionManager) requestContext() (context.Context, *client.Client) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.session == nil {
		return nil, nil
	}
	return cm.ctx, cm.session.Client
}

func (cm *connectionManager) setSession(s *hostSession, ctx context.Context) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.session = s
	cm.ctx = ctx
	if s != nil {
		cm.connInfo = s.ConnInfo
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	s, sctx, err := dial(ctx)
	if err != nil {
		return err
	}

	cm := &connectionManager{done: make(chan struct{})}
	cm.setSession(s, sctx)

	m := initialMonitorModel(cm, s.ConnInfo)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.readerLoop(ctx)

	_, err = p.Run()
	close(cm.done)
	cancel()
	if s := cm.swap(); s != nil {
		s.Close()
	}
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// swap detaches the current session
func (cm *connectionManager) swap() *hostSession {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	s := cm.session
	cm.session = nil
	return s
}

// readerLoop forwards client events to the TUI and reconnects when the
// connection is lost
func (cm *connectionManager) readerLoop(ctx context.Context) {
	for {
		c := cm.client()
		if c != nil {
			cm.p.Send(reconnectedMsg{connInfo: cm.connInfo})
			cm.forward(c)
		}

		select {
		case <-cm.done:
			return
		default:
		}

		cm.p.Send(connectionLostMsg{})
		if s := cm.swap(); s != nil {
			s.Close()
		}
		if !cm.reconnect(ctx) {
			return
		}
	}
}

// forward batches events until the client's event channel closes
func (cm *connectionManager) forward(c *client.Client) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var batch monitorBatchMsg
	events := c.Events()
	for {
		select {
		case <-cm.done:
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			batch.messages = append(batch.messages, m)
		case <-ticker.C:
			if len(batch.messages) > 0 {
				batch.stats = c.Statistics().Snapshot()
				cm.p.Send(batch)
				batch = monitorBatchMsg{}
			}
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect(ctx context.Context) bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		s, sctx, err := dial(ctx)
		if err == nil {
			cm.setSession(s, sctx)
			return true
		}
		glog.V(1).Infof("monitor: reconnect: %v", err)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// request runs fn against the current client as a tea.Cmd
func (cm *connectionManager) request(fn func(ctx context.Context, c *client.Client) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ctx, c := cm.requestContext()
		if c == nil {
			return requestFailedMsg{err: client.ErrClosed}
		}
		return fn(ctx, c)
	}
}

func (cm *connectionManager) listParams() tea.Cmd {
	return cm.request(func(ctx context.Context, c *client.Client) tea.Msg {
		values, err := c.ListParams(ctx)
		if err != nil {
			return requestFailedMsg{err: err}
		}
		return paramListMsg{values: values}
	})
}

func (cm *connectionManager) setParam(id, text string) tea.Cmd {
	return cm.request(func(ctx context.Context, c *client.Client) tea.Msg {
		v, err := setParamText(ctx, c, id, text)
		if err != nil {
			return requestFailedMsg{err: err}
		}
		return paramSetMsg{value: v}
	})
}

func (cm *connectionManager) command(op msgs.Operation) tea.Cmd {
	return cm.request(func(ctx context.Context, c *client.Client) tea.Msg {
		r, err := c.Command(ctx, op)
		if err != nil {
			return requestFailedMsg{err: err}
		}
		return commandDoneMsg{op: op, response: r}
	})
}
