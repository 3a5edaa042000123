// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command OPERATION",
	Short: "Send a command to the ECU",
	Long: `Send a command operation and wait for the response.

Operations:
  EMERGENCY_STOP, IGNITION_ENABLE, IGNITION_DISABLE, STARTER_ENABLE,
  STARTER_DISABLE, DO_ENGINE_START, STOP_ENGINE_START, REFUEL_DONE,
  SAVE_CONFIG, LOAD_CONFIG, DO_ERASE_CONFIG, DO_ERASE_LOG, DO_REBOOT

Flash operations answer IN_PROGRESS first; the final ACK or NAK is printed.
Exits non-zero on NAK.`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

var timeCmd = &cobra.Command{
	Use:   "time",
	Short: "Set the ECU clock to the host time",
	Args:  cobra.NoArgs,
	RunE:  runTime,
}

func init() {
	rootCmd.AddCommand(commandCmd, timeCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	op, err := msgs.ParseOperation(strings.ToUpper(args[0]))
	if err != nil {
		return err
	}

	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.Client.Command(ctx, op)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", op, r)
	if r != msgs.ResponseACK {
		return fmt.Errorf("%s rejected", op)
	}
	return nil
}

func runTime(cmd *cobra.Command, args []string) error {
	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	ref, err := s.Client.SetTime(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Print(msgs.FormatMessage(ref))
	return nil
}
