// Command plcsim runs a simulated IEB PLC for bench testing iebd.
//
// The simulated process image is built from an iebd configuration file: every
// channel becomes a point, and every device group actuation links its motor
// output to its confirm input after the configured motion time. With -modbus
// set, a WAGO Modbus TCP image with the default sensor layout is served too.
// -sens4 and -depth serve the pressure transducers and depth gauges named in
// the pressure and depth sections.
//
// Usage:
//
//	plcsim -config iebd.yaml -listen 127.0.0.1:1111 -modbus 127.0.0.1:1502 -sens4 127.0.0.1:4001 -depth 127.0.0.1:4002
package main

import (
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/config"
	"github.com/arloliu/go-ieb/depth"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/plcsim"
	"github.com/arloliu/go-ieb/sens4"
	"github.com/arloliu/go-ieb/wago"
)

var log logger.Logger

func main() {
	configPath := flag.String("config", "iebd.yaml", "path to the iebd configuration file")
	listen := flag.String("listen", "", "line protocol listen address (default: 127.0.0.1:<plc.port>)")
	modbusAddr := flag.String("modbus", "", "WAGO Modbus TCP listen address, disabled when empty")
	sens4Addr := flag.String("sens4", "", "SENS4 gateway listen address, disabled when empty")
	depthAddr := flag.String("depth", "", "depth gauge counter listen address, disabled when empty")
	motion := flag.Duration("motion", 2*time.Second, "time a motor takes to reach its limit switch")
	identity := flag.String("identity", "", "identity string (default: <identity.signature> simulator)")
	flag.Parse()

	os.Setenv("ENV", "development")
	log = logger.NewSlog(logger.InfoLevel, false)
	logger.SetDefault(log)

	addrs := listenAddrs{line: *listen, modbus: *modbusAddr, sens4: *sens4Addr, depth: *depthAddr}
	if err := run(*configPath, addrs, *identity, *motion); err != nil {
		log.Error("plcsim failed", "error", err)
		os.Exit(1)
	}
}

// listenAddrs holds the listen address of every simulated device. Empty
// addresses disable the device, except for the line protocol.
type listenAddrs struct {
	line   string
	modbus string
	sens4  string
	depth  string
}

func run(configPath string, addrs listenAddrs, identity string, motion time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	listen := addrs.line
	if listen == "" {
		listen = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.PLC.Port))
	}
	if identity == "" {
		identity = cfg.Identity.Signature + " simulator"
	}

	points, err := pointsOf(cfg)
	if err != nil {
		return err
	}

	sim := plcsim.NewServer(
		plcsim.WithLogger(log),
		plcsim.WithIdentity(cfg.Identity.Channel, identity),
		plcsim.WithPoints(points...),
	)
	linkGroups(sim, cfg.Groups, motion)

	if err := sim.Start(listen); err != nil {
		return fmt.Errorf("start line protocol server: %w", err)
	}
	defer sim.Close()
	log.Info("plc simulator listening", "addr", sim.Addr(), "points", len(points), "identity", identity)

	if addrs.modbus != "" {
		mb := plcsim.NewModbusServer(log)
		seedWAGO(mb)
		if err := mb.Listen(addrs.modbus); err != nil {
			return fmt.Errorf("start modbus server: %w", err)
		}
		defer mb.Close()
		log.Info("wago simulator listening", "addr", mb.Addr())
	}

	if addrs.sens4 != "" {
		gw := plcsim.NewSENS4(log)
		seedSENS4(gw, cfg.Pressure)
		if err := gw.Start(addrs.sens4); err != nil {
			return fmt.Errorf("start sens4 gateway: %w", err)
		}
		defer gw.Close()
	}

	if addrs.depth != "" {
		g := plcsim.NewDepthGauge(log)
		seedDepth(g, cfg.Depth)
		if err := g.Start(addrs.depth); err != nil {
			return fmt.Errorf("start depth gauge counter: %w", err)
		}
		defer g.Close()
	}

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-exitSig

	log.Info("exit signal received")

	return nil
}

// pointsOf builds the initial process image. Every mechanism starts closed.
func pointsOf(cfg *config.Config) ([]plcsim.Point, error) {
	closed := make(map[string]bool)
	for _, g := range cfg.Groups {
		if g.ClosedSensor != "" {
			closed[g.ClosedSensor] = true
		}
	}

	points := make([]plcsim.Point, 0, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		kind, err := codec.ParseKind(ch.Kind)
		if err != nil {
			return nil, err
		}
		if kind == codec.KindIdentity {
			continue
		}

		p := plcsim.Point{Name: ch.Name, Kind: kind, Unit: ch.Unit}
		switch {
		case kind.Digital():
			p.Value = codec.BoolValue(closed[ch.Name])
		case ch.Unit == "%":
			p.Value = codec.FloatValue(40 + float64(i%5))
		default:
			p.Value = codec.FloatValue(math.Round((18.5+0.3*float64(i%7))*10) / 10)
		}
		points = append(points, p)
	}

	return points, nil
}

// linkGroups drives the limit switches from the motor outputs. The opposite
// switch is released before the confirming one is set.
func linkGroups(sim *plcsim.Server, groups []config.GroupConfig, motion time.Duration) {
	seen := make(map[config.MotionConfig]struct{})
	for _, g := range groups {
		for _, m := range []*config.MotionConfig{g.Open, g.Close, g.Home} {
			if m == nil {
				continue
			}
			if _, dup := seen[*m]; dup {
				continue
			}
			seen[*m] = struct{}{}
			switch m.Confirm {
			case g.OpenSensor:
				if g.ClosedSensor != "" {
					sim.Link(m.Output, g.ClosedSensor, !m.Value, motion)
				}
			case g.ClosedSensor:
				if g.OpenSensor != "" {
					sim.Link(m.Output, g.OpenSensor, !m.Value, motion)
				}
			}
			sim.Link(m.Output, m.Confirm, m.Value, motion)
		}
	}
}

// seedWAGO loads plausible raw values for the default sensor layout.
func seedWAGO(mb *plcsim.ModbusServer) {
	for _, s := range wago.DefaultSensors() {
		var raw uint16
		switch s.Kind {
		case wago.SensorHumidity:
			raw = uint16(math.Round(45.0 * 32767 / 100))
		case wago.SensorTemperature:
			raw = uint16(math.Round((20.0 + 30) * 32767 / 100))
		default:
			raw = 215
		}
		if err := mb.SetHoldingRegister(s.Register, raw); err != nil {
			log.Warn("failed to seed register", "register", s.Register, "error", err)
		}
	}
}

// seedSENS4 puts every configured transducer on the line at a cold, pumped
// down reading. Without configured transducers one answers to the factory address.
func seedSENS4(gw *plcsim.SENS4, pc config.PressureConfig) {
	if len(pc.Transducers) == 0 {
		gw.SetTransducer(sens4.DefaultDeviceID, 1.2e-6, -110)
		return
	}
	for i, t := range pc.Transducers {
		id := t.DeviceID
		if id == 0 {
			id = sens4.DefaultDeviceID
		}
		gw.SetTransducer(id, 1.2e-6*float64(i+1), -110+float64(i))
	}
}

// seedDepth sets every configured gauge channel to a distinct reading.
func seedDepth(g *plcsim.DepthGauge, dc config.DepthConfig) {
	channels := dc.Channels
	if len(channels) == 0 {
		channels = depth.DefaultChannels()
	}
	for i, ch := range channels {
		g.Set(ch, 1.5+0.0125*float64(i))
	}
}
