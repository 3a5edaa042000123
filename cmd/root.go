// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"flag"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Addressing
	engineID  uint32
	replyWait time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "miniecu",
	Short: "MiniECU engine control unit tools",
	Long: `MiniECU - ECU simulator and host tools for the PBStx protocol.

Runs the ECU core as a simulator over serial ports and websocket endpoints,
and talks to a running ECU: raw frame logging, parameter get/set, commands,
memory dumps, a monitor TUI and an interactive shell.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 57600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the MINIECU_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.1.0",
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 57600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().Uint32VarP(&engineID, "engine-id", "e", 1, "Engine id of the ECU to address")
	rootCmd.PersistentFlags().DurationVar(&replyWait, "reply-timeout", 2*time.Second, "Time to wait for each reply")

	// glog flags (-v, -logtostderr, ...)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
