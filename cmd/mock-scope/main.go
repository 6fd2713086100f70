// mock-scope runs a simulated oscilloscope on a TCP port. It answers
// the same SCPI command set as the real instrument, with front-panel
// clamping and snapping behavior, so the host can be developed and
// tested without hardware.
//
// Usage:
//
//	mock-scope [-addr 127.0.0.1:5555] [-trace]
//
// Then point the host at it:
//
//	scopectl -resource tcp:127.0.0.1:5555
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"scopectl/pkg/log"
	"scopectl/pkg/sim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5555", "Listen address")
	trace := flag.Bool("trace", false, "Trace every command and response")
	flag.Parse()

	logger := log.New("mock-scope")
	if *trace {
		logger.SetLevel(log.DEBUG)
	}
	log.SetDefaultLogger(logger)

	srv, err := sim.NewServer(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		srv.Close()
	}()

	if err := srv.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
