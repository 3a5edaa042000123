// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Thermoquad/miniecu/pkg/capture"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/spf13/cobra"
)

var (
	captureFilter string
	captureEngine int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Work with capture files",
	Long: `Capture files are written by any command run with --capture FILE and
hold every frame sent or received, with time, direction and endpoint.`,
}

var captureDumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Print the records of a capture file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCaptureDump,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.AddCommand(captureDumpCmd)
	captureDumpCmd.Flags().StringVar(&captureFilter, "type", "", "Only show this variant (e.g. STATUS_TEXT)")
	captureDumpCmd.Flags().IntVar(&captureEngine, "engine", -1, "Only show this engine id")
}

func runCaptureDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	filter := strings.ToUpper(captureFilter)
	r := capture.NewReader(f)
	total, shown := 0, 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", total+1, err)
		}
		total++

		if filter != "" && msgs.Tag(rec.Tag).String() != filter {
			continue
		}
		if captureEngine >= 0 && rec.EngineID != uint32(captureEngine) {
			continue
		}
		shown++
		fmt.Print(rec.Format())
	}

	fmt.Printf("\n%d of %d records\n", shown, total)
	return nil
}
