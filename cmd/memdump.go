// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/spf13/cobra"
)

var (
	memdumpOutput string
)

var memdumpCmd = &cobra.Command{
	Use:   "memdump ram|flash ADDRESS SIZE",
	Short: "Read ECU memory",
	Long: `Stream a memory range from the ECU and print it as a hex dump.

The ECU answers only while DEBUG_MEMDUMP is set:
  miniecu param set DEBUG_MEMDUMP true

ADDRESS and SIZE accept decimal or 0x-prefixed hex. The dump stops early at
the end of the memory. Use --output to write the raw bytes to a file.`,
	Args: cobra.ExactArgs(3),
	RunE: runMemdump,
}

func init() {
	rootCmd.AddCommand(memdumpCmd)
	memdumpCmd.Flags().StringVarP(&memdumpOutput, "output", "o", "", "Write raw bytes to file")
}

func parseMemoryType(name string) (msgs.MemoryType, error) {
	switch strings.ToLower(name) {
	case "ram":
		return msgs.MemoryRAM, nil
	case "flash":
		return msgs.MemoryFlash, nil
	}
	return 0, fmt.Errorf("unknown memory type %q (use ram or flash)", name)
}

func parseUint32(name, text string) (uint32, error) {
	v, err := strconv.ParseUint(text, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, text)
	}
	return uint32(v), nil
}

func runMemdump(cmd *cobra.Command, args []string) error {
	typ, err := parseMemoryType(args[0])
	if err != nil {
		return err
	}
	address, err := parseUint32("address", args[1])
	if err != nil {
		return err
	}
	size, err := parseUint32("size", args[2])
	if err != nil {
		return err
	}

	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := s.Client.MemoryDump(ctx, typ, address, size)
	if err != nil {
		return err
	}
	if uint32(len(data)) < size {
		fmt.Fprintf(os.Stderr, "end of %s after %d bytes\n", typ, len(data))
	}

	if memdumpOutput != "" {
		if err := os.WriteFile(memdumpOutput, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Wrote %d bytes to %s\n", len(data), memdumpOutput)
		return nil
	}

	dumper := hex.Dumper(os.Stdout)
	defer dumper.Close()
	_, err = dumper.Write(data)
	return err
}
