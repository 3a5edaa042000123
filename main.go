// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// MiniECU - engine control unit core, simulator and host tools
// for the PBStx serial protocol.

package main

import (
	"os"

	"github.com/Thermoquad/miniecu/cmd"
	"github.com/golang/glog"
)

func main() {
	err := cmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
