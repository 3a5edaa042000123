// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Thermoquad/miniecu/pkg/capture"
	"github.com/Thermoquad/miniecu/pkg/client"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/spf13/cobra"
)

var paramCmd = &cobra.Command{
	Use:   "param",
	Short: "Read and write ECU parameters",
	Long: `Read and write the parameter table of a running ECU.

Values are parsed according to the type the ECU reports for the parameter,
so "param set BATT_CELLS 4" sends an int32 and "param set BATT_TYPE LiPo" a
string. After a set, the value in effect is printed; a rejected value prints
the current one.`,
}

var paramGetCmd = &cobra.Command{
	Use:   "get ID|INDEX",
	Short: "Read one parameter by id or table index",
	Args:  cobra.ExactArgs(1),
	RunE:  runParamGet,
}

var paramSetCmd = &cobra.Command{
	Use:   "set ID VALUE",
	Short: "Write one parameter",
	Args:  cobra.ExactArgs(2),
	RunE:  runParamSet,
}

var paramListCmd = &cobra.Command{
	Use:   "list",
	Short: "Read the whole parameter table",
	Args:  cobra.NoArgs,
	RunE:  runParamList,
}

var paramExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Save the parameter table to a CBOR file",
	Args:  cobra.ExactArgs(1),
	RunE:  runParamExport,
}

var paramImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Write every parameter from a CBOR file",
	Long: `Write every parameter from a file made by "param export".

Read-only parameters are skipped. The values are not saved to flash; follow
with "command SAVE_CONFIG" to persist them.`,
	Args: cobra.ExactArgs(1),
	RunE: runParamImport,
}

func init() {
	rootCmd.AddCommand(paramCmd)
	paramCmd.AddCommand(paramGetCmd, paramSetCmd, paramListCmd, paramExportCmd, paramImportCmd)
}

func formatParam(v *msgs.ParamValue) string {
	return fmt.Sprintf("[%2d/%d] %-16s %-6s %s", v.ParamIndex, v.ParamCount, v.ParamID, v.Value.Type(), v.Value)
}

func runParamGet(cmd *cobra.Command, args []string) error {
	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	var v *msgs.ParamValue
	if index, perr := strconv.Atoi(args[0]); perr == nil {
		v, err = s.Client.GetParamByIndex(ctx, index)
	} else {
		v, err = s.Client.GetParam(ctx, args[0])
	}
	if err != nil {
		return err
	}
	fmt.Println(formatParam(v))
	return nil
}

// setParamText sets id from text, parsed as the type the ECU reports
func setParamText(ctx context.Context, c *client.Client, id, text string) (*msgs.ParamValue, error) {
	cur, err := c.GetParam(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := param.ParseValue(cur.Value.Type(), text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return c.SetParam(ctx, id, v)
}

func runParamSet(cmd *cobra.Command, args []string) error {
	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := setParamText(ctx, s.Client, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(formatParam(v))
	return nil
}

func runParamList(cmd *cobra.Command, args []string) error {
	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	values, err := s.Client.ListParams(ctx)
	if err != nil {
		return err
	}
	for _, v := range values {
		fmt.Println(formatParam(v))
	}
	return nil
}

func runParamExport(cmd *cobra.Command, args []string) error {
	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	values, err := s.Client.ListParams(ctx)
	if err != nil {
		return err
	}

	params := make([]capture.Param, 0, len(values))
	for _, v := range values {
		params = append(params, capture.NewParam(v.ParamID, v.Value))
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := capture.WriteParams(f, params); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported %d parameters to %s\n", len(params), args[0])
	return nil
}

func runParamImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	params, err := capture.ReadParams(f)
	f.Close()
	if err != nil {
		return err
	}

	s, ctx, err := dial(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	var written, skipped, failed int
	for _, p := range params {
		v, _ := p.Value()
		got, err := s.Client.SetParam(ctx, p.ID, v)
		var pe *client.ParamError
		switch {
		case err == nil:
			written++
			if !got.Value.Equal(v) {
				fmt.Printf("%-16s rejected %s, now %s\n", p.ID, v, got.Value)
			}
		case errors.As(err, &pe) && strings.HasPrefix(pe.Text, "read only"):
			skipped++
		default:
			failed++
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}

	fmt.Printf("Imported %d parameters (%d read-only skipped, %d failed)\n", written, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d parameters failed", failed)
	}
	return nil
}
