// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/miniecu/pkg/bridge"
	"github.com/Thermoquad/miniecu/pkg/ecu"
	"github.com/Thermoquad/miniecu/pkg/flash"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	simSerial       []string
	simListen       string
	simFlash        string
	simFlashPages   int
	simPageSize     int
	simMQTT         string
	simMaxEndpoints int
	simHWVersion    string
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the ECU core as a simulator",
	Long: `Run the ECU core with simulated sensors.

Every --serial port and every websocket client accepted on --listen becomes
an endpoint of the same ECU: status is broadcast to all of them, parameter
values and diagnostics too. The first serial port follows SERIAL1_BAUD.

With --flash the parameters persist in an image file standing in for the
external SPI flash chip (config, error and log partitions). With --mqtt the
broadcast traffic is republished to a broker as <prefix>/<engine>/<variant>.

Examples:
  miniecu sim --serial /dev/ttyUSB0 --flash ecu.img
  miniecu sim --listen :8080 --mqtt tcp://localhost:1883/miniecu`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringArrayVar(&simSerial, "serial", nil, "Serial port endpoint (repeatable)")
	simCmd.Flags().StringVar(&simListen, "listen", "", "Accept websocket endpoints on this address")
	simCmd.Flags().StringVar(&simFlash, "flash", "", "Flash image file")
	simCmd.Flags().IntVar(&simFlashPages, "flash-pages", 2048, "Flash chip size in pages")
	simCmd.Flags().IntVar(&simPageSize, "page-size", 256, "Flash page size in bytes")
	simCmd.Flags().StringVar(&simMQTT, "mqtt", "", "MQTT broker URL, path is the topic prefix")
	simCmd.Flags().IntVar(&simMaxEndpoints, "max-endpoints", 4, "Maximum number of concurrent endpoints")
	simCmd.Flags().StringVar(&simHWVersion, "hw-version", "sim", "Reported ECU_HW_VER")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func runSim(cmd *cobra.Command, args []string) error {
	if len(simSerial) == 0 && simListen == "" {
		return fmt.Errorf("at least one --serial or --listen endpoint is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ports := make([]*SerialConnection, 0, len(simSerial))
	defer func() {
		for _, p := range ports {
			p.Close()
		}
	}()
	for _, name := range simSerial {
		p, err := OpenSerialConnection(name, ecu.DefaultBaud)
		if err != nil {
			return err
		}
		ports = append(ports, p)
	}

	opts := ecu.Options{
		Table: ecu.TableOptions{
			HWVersion: simHWVersion,
			Serial:    ecu.MachineSerial(),
		},
		MaxEndpoints: simMaxEndpoints,
	}
	if len(ports) > 0 {
		uart := ports[0]
		opts.Table.SetBaud = func(baud int) {
			if err := uart.SetBaud(baud); err != nil {
				glog.Errorf("sim: %s: set baud %d: %v", uart.name, baud, err)
			}
		}
	}

	var dev *flash.FileDevice
	if simFlash != "" {
		dev = flash.NewFileDevice(simFlash, simFlashPages, simPageSize)
		defer dev.Close()
		opts.Device = dev
	}

	e, err := ecu.New(opts)
	if err != nil {
		return err
	}

	rec, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeRecorder(rec)
	if rec != nil {
		e.Hub.AddObserver(rec)
	}

	var wg sync.WaitGroup
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil {
				glog.Errorf("sim: %s: %v", name, err)
			}
		}()
	}

	if simMQTT != "" {
		pub, prefix, err := bridge.Dial(simMQTT)
		if err != nil {
			return err
		}
		defer pub.Close()

		// broadcasts reach every endpoint; publish one copy
		b := bridge.New(pub, prefix)
		b.Endpoints = e.Hub.Endpoints
		if len(ports) > 0 {
			b.Endpoint = ports[0].name
		}
		e.Hub.AddObserver(b)
		goRun("mqtt", func() error { return b.Run(ctx) })
		glog.Infof("sim: publishing to %s under %q", simMQTT, prefix)
	}

	goRun("ecu", func() error { return e.Run(ctx) })

	for _, p := range ports {
		goRun(p.name, func() error { return e.Serve(ctx, p.name, p) })
		glog.Infof("sim: serving %s", p.name)
	}

	if simListen != "" {
		if err := serveWebSocket(ctx, e, simListen, goRun); err != nil {
			cancel()
			wg.Wait()
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "MiniECU simulator running, engine id %d, serial %s\n",
		e.Hub.EngineID(), opts.Table.Serial)

	<-ctx.Done()
	// unblock endpoint readers
	for _, p := range ports {
		p.Close()
	}
	wg.Wait()
	return nil
}

// serveWebSocket accepts websocket endpoints until ctx is done
func serveWebSocket(ctx context.Context, e *ecu.ECU, addr string, goRun func(string, func() error)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", wsEndpoint(ctx, e))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	goRun("websocket", func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	goRun("websocket shutdown", func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	glog.Infof("sim: accepting websocket endpoints on %s", ln.Addr())
	return nil
}

// wsEndpoint serves each upgraded websocket as an ECU endpoint
func wsEndpoint(ctx context.Context, e *ecu.ECU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			glog.Warningf("sim: websocket upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		ws := newWebSocketConnection(conn)
		name := "ws:" + r.RemoteAddr
		glog.Infof("sim: endpoint %s connected", name)

		stop := context.AfterFunc(ctx, func() { ws.Close() })
		defer stop()
		defer ws.Close()

		if err := e.Serve(ctx, name, ws); err != nil && ctx.Err() == nil && !isClosed(err) {
			glog.Warningf("sim: endpoint %s: %v", name, err)
		}
		glog.Infof("sim: endpoint %s disconnected", name)
	}
}
