// scopectl is the host daemon for bench oscilloscopes. It connects to
// an instrument over USBTMC, USB bulk, serial, or TCP, mirrors the
// device settings, and serves an HTTP/WebSocket API for frontends.
//
// Usage:
//
//	scopectl [-config scopectl.yaml] [options] [command [args]]
//
// With no command, scopectl runs as a daemon. One-shot commands:
//
//	settings              print the current settings as JSON
//	pull                  re-read every subsystem from the instrument
//	preset <name>         apply a named preset
//	control <verb>        run|stop|single|clear|autoscale|force-trigger
//	export <path>         save the current setup document
//	import <path>         restore a setup document (pushes to the device)
//
// Options:
//
//	-config string    Configuration file (YAML)
//	-resource string  Instrument resource, e.g. usbtmc:/dev/usbtmc0,
//	                  serial:/dev/ttyUSB0, usb:1ab1:04ce, tcp:host:5555
//	                  (default: discover)
//	-api string       API listen address (default: disabled)
//	-logfile string   Log file path (default: stderr)
//	-trace            Enable debug tracing
//
// Examples:
//
//	# Discover the instrument and serve the API on :8080
//	scopectl -api :8080
//
//	# Talk to a networked instrument
//	scopectl -resource tcp:192.168.1.50:5555 -api :8080
//
//	# Against the simulator (see mock-scope)
//	scopectl -resource tcp:127.0.0.1:5555 -trace
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scopectl/pkg/api"
	"scopectl/pkg/config"
	"scopectl/pkg/log"
	"scopectl/pkg/scope"
	"scopectl/pkg/transport"
)

func main() {
	configFile := flag.String("config", "", "Configuration file (YAML)")
	resource := flag.String("resource", "", "Instrument resource (default: discover)")
	apiAddr := flag.String("api", "", "API listen address (default: disabled)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	trace := flag.Bool("trace", false, "Enable debug tracing")
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// Flags override the file and the environment.
	if *resource != "" {
		cfg.Transport.Resource = *resource
	}
	if *apiAddr != "" {
		cfg.API.Addr = *apiAddr
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *trace {
		cfg.Log.Level = "DEBUG"
	}

	logger := setupLogging(cfg)
	logger.Info("scopectl starting")

	res := cfg.Transport.Resource
	if res == "" {
		candidates := transport.Discover()
		if len(candidates) == 0 {
			logger.Error("no instrument found; pass -resource or set SCOPECTL_RESOURCE")
			os.Exit(1)
		}
		if len(candidates) > 1 {
			logger.Info("multiple instruments found:\n%s", transport.DescribeCandidates(candidates))
		}
		res = candidates[0]
		logger.Info("discovered instrument at %s", res)
	}

	tr, err := transport.Open(res, transport.Config{
		ReadTimeout:    cfg.Transport.ReadTimeout.Std(),
		ConnectTimeout: cfg.Transport.ConnectTimeout.Std(),
		BaudRate:       cfg.Transport.BaudRate,
	})
	if err != nil {
		logger.WithError(err).Error("bad resource %q", res)
		os.Exit(1)
	}
	if err := tr.Connect(); err != nil {
		logger.WithError(err).Error("connect to %s failed", res)
		os.Exit(1)
	}
	defer tr.Disconnect()

	osc := scope.New(tr)

	info, err := osc.Identify()
	if err != nil {
		logger.WithError(err).Error("instrument identification failed")
		os.Exit(1)
	}
	logger.Info("connected: %s %s (fw %s)", info.Vendor, info.Model, info.Firmware)

	if err := osc.PullAll(); err != nil {
		// Partial pulls are survivable; the mirrors keep defaults for
		// whatever did not answer.
		logger.WithError(err).Warn("initial pull incomplete")
	}

	if args := flag.Args(); len(args) > 0 {
		if err := runCommand(osc, args); err != nil {
			logger.WithError(err).Error("%s failed", args[0])
			os.Exit(1)
		}
		return
	}

	var server *api.Server
	if cfg.API.Addr != "" {
		server = api.New(api.Config{Addr: cfg.API.Addr, Scope: osc})
		go func() {
			if err := server.Start(); err != nil {
				logger.WithError(err).Error("API server stopped")
			}
		}()
	} else {
		logger.Info("API server disabled (no address configured)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received %v, shutting down", sig)

	if server != nil {
		server.Stop()
	}
	// Give in-flight instrument I/O a moment to finish.
	time.Sleep(100 * time.Millisecond)
}

// runCommand executes one one-shot command against a connected,
// freshly-pulled instrument.
func runCommand(osc *scope.Oscilloscope, args []string) error {
	needArg := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("%s requires an argument", args[0])
		}
		return args[1], nil
	}

	switch args[0] {
	case "settings":
		data, err := json.MarshalIndent(osc.Settings(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	case "pull":
		return osc.PullAll()
	case "preset":
		name, err := needArg()
		if err != nil {
			return err
		}
		return osc.ApplyPreset(name)
	case "control":
		verb, err := needArg()
		if err != nil {
			return err
		}
		return osc.ControlVerb(verb)
	case "export":
		path, err := needArg()
		if err != nil {
			return err
		}
		return osc.ExportSetup(path)
	case "import":
		path, err := needArg()
		if err != nil {
			return err
		}
		return osc.ImportSetup(path, true)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// setupLogging configures the default logger from the merged config.
func setupLogging(cfg *config.Config) *log.Logger {
	logger := log.New("scopectl")
	logger.SetLevel(log.ParseLevel(cfg.Log.Level))
	if cfg.Log.Format == "json" {
		logger.SetFormat(log.FormatJSON)
	}
	if cfg.Log.File != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		logger.SetWriter(w)
		logger.SetColorize(false)
	}
	log.SetDefaultLogger(logger)
	return logger
}
