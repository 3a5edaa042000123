// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/pbstx"
	"github.com/Thermoquad/miniecu/pkg/session"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	rawLogStats    bool
	rawLogInterval time.Duration
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display PBStx frames as they arrive.

Each frame is shown with timestamp, sequence number, message variant and the
decoded fields. Checksum failures and oversize frames are reported inline.
With --stats, framer statistics are printed periodically and on exit.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogStats, "stats", false, "Print framer statistics")
	rawLogCmd.Flags().DurationVar(&rawLogInterval, "stats-interval", 10*time.Second, "Statistics print interval")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	rec, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeRecorder(rec)

	fmt.Printf("MiniECU - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	framer := pbstx.NewFramer(conn, nil)
	defer framer.Close()
	stats := framer.Statistics()

	lastStats := time.Now()
	for {
		frame, err := framer.Receive(ctx)

		if rawLogStats && time.Since(lastStats) >= rawLogInterval {
			fmt.Print(stats.String())
			lastStats = time.Now()
		}

		var ce *pbstx.ChecksumError
		switch {
		case err == nil:
		case errors.Is(err, pbstx.ErrTimeout):
			continue
		case errors.As(err, &ce), errors.Is(err, pbstx.ErrOverflow):
			fmt.Printf("[ERROR] %v\n", err)
			continue
		case ctx.Err() != nil:
			if rawLogStats {
				fmt.Print("\n" + stats.String())
			}
			return nil
		case isClosed(err):
			glog.Infof("connection closed")
			return nil
		default:
			return fmt.Errorf("read: %w", err)
		}

		fmt.Print(msgs.FormatFrame(frame))
		if rec != nil {
			if m, err := msgs.Decode(frame.Payload); err == nil {
				rec.Observe(session.Event{Time: frame.Timestamp, Direction: session.Rx, Endpoint: connInfo, Message: m, Payload: frame.Payload})
			}
		}
	}
}
