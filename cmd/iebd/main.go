// Command iebd runs the IEB controller daemon.
//
// It loads a YAML configuration file, connects to the PLC, initializes the
// controller and then serves the HTTP API, MQTT telemetry, the WAGO Modbus
// bridge, the SENS4 pressure transducers and the depth gauges as enabled by
// the configuration.
//
// Usage:
//
//	iebd -config /etc/iebd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arloliu/go-ieb/api"
	"github.com/arloliu/go-ieb/config"
	"github.com/arloliu/go-ieb/depth"
	"github.com/arloliu/go-ieb/ieb"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/sens4"
	"github.com/arloliu/go-ieb/telemetry"
	"github.com/arloliu/go-ieb/transport"
	"github.com/arloliu/go-ieb/wago"
)

const startupTimeout = 30 * time.Second

var log logger.Logger

func connStateChangeHandler(prevState transport.ConnState, newState transport.ConnState) {
	log.Info("plc connection state changed", "prevState", prevState.String(), "newState", newState.String())
}

func main() {
	configPath := flag.String("config", "iebd.yaml", "path to the configuration file")
	skipInit := flag.Bool("no-init", false, "do not initialize the controller at startup")
	flag.Parse()

	if err := run(*configPath, !*skipInit); err != nil {
		fmt.Fprintln(os.Stderr, "iebd:", err)
		os.Exit(1)
	}
}

func run(configPath string, initialize bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slogger, err := cfg.NewLogger(os.Stdout)
	if err != nil {
		return err
	}
	log = slogger
	logger.SetDefault(log)

	ccfg, err := cfg.ControllerConfig(log)
	if err != nil {
		return fmt.Errorf("controller config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var telemetryWG sync.WaitGroup

	ctrl := ieb.NewController(ccfg)
	ctrl.AddConnStateHandler(connStateChangeHandler)
	defer func() {
		if err := ctrl.Stop(); err != nil {
			log.Warn("failed to stop controller", "error", err)
		}
	}()

	if initialize {
		initCtx, initCancel := context.WithTimeout(ctx, startupTimeout)
		snap, err := ctrl.Initialize(initCtx)
		initCancel()
		if err != nil {
			// The controller can still be initialized later through POST /init.
			log.Error("failed to initialize controller", "plc", ccfg.Transport().Addr(), "error", err)
		} else {
			log.Info("controller initialized", "identity", ctrl.Identity(), "channels", len(snap.Channels))
		}
	}

	var bridge *wago.Client
	if cfg.WAGO.Enabled {
		wcfg, err := cfg.WAGOClientConfig(log)
		if err != nil {
			return fmt.Errorf("wago config: %w", err)
		}
		bridge = wago.NewClient(wcfg)
		if err := bridge.Connect(ctx); err != nil {
			log.Warn("wago connect failed, retrying on first request", "addr", wcfg.Addr(), "error", err)
		}
		defer bridge.Close()
	}

	var pressure *sens4.Client
	if cfg.Pressure.Enabled {
		scfg, err := cfg.SENS4Config(log)
		if err != nil {
			return fmt.Errorf("pressure config: %w", err)
		}
		if pressure, err = sens4.NewClient(scfg); err != nil {
			return fmt.Errorf("pressure client: %w", err)
		}
		defer pressure.Close()
	}

	var gauges *depth.Client
	if cfg.Depth.Enabled {
		dcfg, err := cfg.DepthClientConfig(log)
		if err != nil {
			return fmt.Errorf("depth config: %w", err)
		}
		if gauges, err = depth.NewClient(dcfg); err != nil {
			return fmt.Errorf("depth client: %w", err)
		}
		defer gauges.Close()
	}

	if cfg.HTTP.Enabled {
		var w api.WAGO
		if bridge != nil {
			w = bridge
		}
		var opts []api.RouterOption
		if pressure != nil {
			opts = append(opts, api.WithPressure(pressure))
		}
		if gauges != nil {
			opts = append(opts, api.WithDepth(gauges))
		}
		srv := api.NewServer(cfg.HTTP.Listen, api.NewRouter(ctrl, w, log, opts...), log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				log.Warn("failed to stop http server", "error", err)
			}
		}()
	}

	if cfg.Telemetry.Enabled {
		pcfg, err := cfg.PublisherConfig(log)
		if err != nil {
			return fmt.Errorf("telemetry config: %w", err)
		}
		pub := telemetry.NewPublisher(pcfg)
		if err := pub.Connect(ctx); err != nil {
			return fmt.Errorf("connect telemetry broker: %w", err)
		}
		defer pub.Close()

		src := telemetry.Sources{Controller: ctrl}
		if bridge != nil {
			src.Sensors = bridge
		}
		if pressure != nil {
			src.Pressure = pressure
		}
		if gauges != nil {
			src.Depth = gauges
		}
		telemetryWG.Add(1)
		go func() {
			defer telemetryWG.Done()
			if err := pub.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("telemetry stopped", "error", err)
			}
		}()
	}

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exitSig

	log.Info("exit signal received", "signal", sig.String())
	cancel()
	// the publisher must stop polling before the devices and broker are closed
	telemetryWG.Wait()

	return nil
}
