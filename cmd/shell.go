// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/miniecu/pkg/client"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/abiosoft/ishell"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell [COMMAND ARGS...]",
	Short: "Interactive console for an ECU",
	Long: `Open an interactive console on the connection.

Diagnostics (STATUS_TEXT) from the ECU are printed as they arrive. With
arguments, a single console command is run and the shell exits:
  miniecu shell get BATT_TYPE`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

const shellKey = "$ecu"

// ecuShell is the state shared by the console commands
type ecuShell struct {
	shell   *ishell.Shell
	session *hostSession
	ctx     context.Context

	mu     sync.Mutex
	status *msgs.Status
}

func shellFrom(c *ishell.Context) *ecuShell {
	return c.Get(shellKey).(*ecuShell)
}

func (s *ecuShell) client() *client.Client {
	return s.session.Client
}

// watch prints diagnostics and keeps the latest status until the event
// channel closes
func (s *ecuShell) watch() {
	for m := range s.client().Events() {
		switch v := m.(type) {
		case *msgs.Status:
			s.mu.Lock()
			s.status = v
			s.mu.Unlock()
		case *msgs.StatusText:
			s.shell.Printf("\n[%s] %s\n", v.Severity, v.Text)
		case *msgs.ParamValue:
			s.shell.Println("\n" + formatParam(v))
		}
	}
	s.shell.Println("connection closed")
}

// shellFunc wraps a console command with a request context and error output
func shellFunc(minArgs int, usage string, fn func(c *ishell.Context, s *ecuShell, ctx context.Context) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if len(c.Args) < minArgs {
			c.Err(fmt.Errorf("usage: %s %s", c.Cmd.Name, usage))
			return
		}
		s := shellFrom(c)
		if err := fn(c, s, s.ctx); err != nil {
			c.Err(err)
		}
	}
}

var shellCommands = []*ishell.Cmd{
	{
		Name:    "get",
		Aliases: []string{"g"},
		Help:    "ID|INDEX - read a parameter",
		Func: shellFunc(1, "ID|INDEX", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			var v *msgs.ParamValue
			var err error
			if index, perr := strconv.Atoi(c.Args[0]); perr == nil {
				v, err = s.client().GetParamByIndex(ctx, index)
			} else {
				v, err = s.client().GetParam(ctx, c.Args[0])
			}
			if err != nil {
				return err
			}
			c.Println(formatParam(v))
			return nil
		}),
	},
	{
		Name:    "set",
		Aliases: []string{"s"},
		Help:    "ID VALUE - write a parameter",
		Func: shellFunc(2, "ID VALUE", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			v, err := setParamText(ctx, s.client(), c.Args[0], strings.Join(c.Args[1:], " "))
			if err != nil {
				return err
			}
			c.Println(formatParam(v))
			return nil
		}),
	},
	{
		Name:    "list",
		Aliases: []string{"ls"},
		Help:    "read the parameter table",
		Func: shellFunc(0, "", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			values, err := s.client().ListParams(ctx)
			if err != nil {
				return err
			}
			for _, v := range values {
				c.Println(formatParam(v))
			}
			return nil
		}),
	},
	{
		Name:    "cmd",
		Aliases: []string{"c"},
		Help:    "OPERATION - send a command",
		Func: shellFunc(1, "OPERATION", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			op, err := msgs.ParseOperation(strings.ToUpper(c.Args[0]))
			if err != nil {
				return err
			}
			r, err := s.client().Command(ctx, op)
			if err != nil {
				return err
			}
			c.Printf("%s: %s\n", op, r)
			return nil
		}),
		Completer: func(args []string) []string {
			var ops []string
			for op := msgs.OpEmergencyStop; op <= msgs.OpDoReboot; op++ {
				ops = append(ops, op.String())
			}
			return ops
		},
	},
	{
		Name: "status",
		Help: "show the latest status",
		Func: shellFunc(0, "", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			s.mu.Lock()
			st := s.status
			s.mu.Unlock()
			if st == nil {
				return fmt.Errorf("no status received yet")
			}
			c.Print(msgs.FormatMessage(st))
			return nil
		}),
	},
	{
		Name: "time",
		Help: "set the ECU clock to the host time",
		Func: shellFunc(0, "", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			ref, err := s.client().SetTime(ctx, time.Now())
			if err != nil {
				return err
			}
			c.Print(msgs.FormatMessage(ref))
			return nil
		}),
	},
	{
		Name:    "memdump",
		Aliases: []string{"md"},
		Help:    "ram|flash ADDRESS SIZE - hex dump ECU memory",
		Func: shellFunc(3, "ram|flash ADDRESS SIZE", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			typ, err := parseMemoryType(c.Args[0])
			if err != nil {
				return err
			}
			address, err := parseUint32("address", c.Args[1])
			if err != nil {
				return err
			}
			size, err := parseUint32("size", c.Args[2])
			if err != nil {
				return err
			}
			data, err := s.client().MemoryDump(ctx, typ, address, size)
			if err != nil {
				return err
			}
			c.Print(hex.Dump(data))
			return nil
		}),
	},
	{
		Name: "stats",
		Help: "show framer statistics",
		Func: shellFunc(0, "", func(c *ishell.Context, s *ecuShell, ctx context.Context) error {
			c.Print(s.client().Statistics().String())
			return nil
		}),
	},
}

func runShell(cmd *cobra.Command, args []string) error {
	hs, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer hs.Close()

	s := &ecuShell{
		shell:   ishell.New(),
		session: hs,
		ctx:     ctx,
	}
	s.shell.Set(shellKey, s)
	s.shell.SetPrompt(fmt.Sprintf("ecu%d > ", engineID))
	for _, c := range shellCommands {
		s.shell.AddCmd(c)
	}

	if len(args) > 0 {
		return s.shell.Process(args...)
	}

	go s.watch()
	s.shell.Printf("Connected: %s\n", hs.ConnInfo)
	s.shell.Run()
	return nil
}
