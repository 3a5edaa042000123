// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/pbstx"
	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid PBStx frame",
	Long: `Wait for a valid PBStx frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that passes the checksum and decodes as a known message. Noise and broken
frames are skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before running other commands.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("MiniECU - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	framer := pbstx.NewFramer(conn, nil)
	defer framer.Close()

	rejected := 0
	for {
		frame, err := framer.Receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, pbstx.ErrTimeout):
			continue
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
			os.Exit(1)
		default:
			var ce *pbstx.ChecksumError
			if errors.As(err, &ce) || errors.Is(err, pbstx.ErrOverflow) {
				rejected++
				continue
			}
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}

		m, err := msgs.Decode(frame.Payload)
		if err != nil {
			rejected++
			continue
		}

		if rejected > 0 {
			fmt.Printf("(skipped %d invalid frames before sync)\n", rejected)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (%d)\n", m.Tag(), uint8(m.Tag()))
		fmt.Printf("  Engine: %d\n", msgs.EngineID(m))
		fmt.Printf("  Seq: %d\n", frame.Seq)
		fmt.Printf("  Length: %d bytes\n", frame.Length())
		fmt.Printf("  CRC: 0x%04X\n", frame.Checksum)
		os.Exit(0)
	}
}
