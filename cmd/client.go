// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/Thermoquad/miniecu/pkg/capture"
	"github.com/Thermoquad/miniecu/pkg/client"
	"github.com/golang/glog"
)

var capturePath string

func init() {
	rootCmd.PersistentFlags().StringVar(&capturePath, "capture", "", "Append every frame to a capture file")
}

// hostSession is one open connection to an ECU
type hostSession struct {
	Client   *client.Client
	ConnInfo string

	conn     Connection
	recorder *capture.Recorder
	cancel   context.CancelFunc
	done     chan error
}

// openRecorder opens the --capture file for appending, or returns nil
func openRecorder() (*capture.Recorder, error) {
	if capturePath == "" {
		return nil, nil
	}
	f, err := os.OpenFile(capturePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return capture.NewRecorder(f), nil
}

// closeRecorder flushes and closes the capture file
func closeRecorder(rec *capture.Recorder) {
	if rec == nil {
		return
	}
	if err := rec.Close(); err != nil {
		glog.Errorf("capture: %v", err)
	}
	glog.Infof("capture: %d records written to %s", rec.Count(), capturePath)
}

// dial opens the connection selected by the flags and starts a client on it.
// The returned context is cancelled on interrupt.
func dial(ctx context.Context) (*hostSession, context.Context, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, nil, err
	}

	rec, err := openRecorder()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	c := client.New(connInfo, conn, engineID)
	c.Timeout = replyWait
	if rec != nil {
		c.AddObserver(rec)
	}

	s := &hostSession{
		Client:   c,
		ConnInfo: connInfo,
		conn:     conn,
		recorder: rec,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { s.done <- c.Run(ctx) }()
	return s, ctx, nil
}

// Close stops the client and closes the connection
func (s *hostSession) Close() {
	s.cancel()
	s.conn.Close()
	<-s.done
	closeRecorder(s.recorder)
}
