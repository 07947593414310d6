// Package telemetry publishes IEB status, environment, pressure and depth
// reports to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/arloliu/go-ieb/depth"
	"github.com/arloliu/go-ieb/ieb"
	"github.com/arloliu/go-ieb/internal/pool"
	"github.com/arloliu/go-ieb/logger"
	"github.com/arloliu/go-ieb/sens4"
	"github.com/arloliu/go-ieb/wago"
)

// Subtopics below the root topic.
const (
	TopicStatus      = "status"
	TopicEnv         = "env"
	TopicWAGOSensors = "wago/sensors"
	TopicWAGORelays  = "wago/relays"
	TopicPressure    = "pressure"
	TopicDepth       = "depth"
)

var (
	// ErrNotConnected indicates a publish before Connect or after Close.
	ErrNotConnected = errors.New("telemetry: not connected")
	// ErrBrokerTimeout indicates that the broker did not acknowledge a connect or publish in time.
	ErrBrokerTimeout = errors.New("telemetry: broker timeout")
)

// Controller is the part of ieb.Controller polled by Run.
type Controller interface {
	Status(ctx context.Context) (*ieb.StatusSnapshot, error)
	WAGOEnv(ctx context.Context) (*ieb.EnvSnapshot, error)
}

// SensorReader is the part of wago.Client polled by Run.
type SensorReader interface {
	ReadSensors(ctx context.Context) ([]wago.Reading, error)
	ReadRelays(ctx context.Context) ([]wago.RelayState, error)
}

// PressureReader is the part of sens4.Client polled by Run.
type PressureReader interface {
	ReadAll(ctx context.Context) ([]sens4.Reading, error)
}

// DepthReader is the part of depth.Client polled by Run.
type DepthReader interface {
	Read(ctx context.Context) (depth.Measurement, error)
}

// Sources are the devices polled by Run. Nil sources are skipped.
type Sources struct {
	Controller Controller
	Sensors    SensorReader
	Pressure   PressureReader
	Depth      DepthReader
}

// Metrics contains atomic counters of a Publisher.
type Metrics struct {
	PublishCount    atomic.Uint64
	PublishErrCount atomic.Uint64
	PollErrCount    atomic.Uint64
}

// Publisher sends reports to one MQTT broker.
type Publisher struct {
	cfg     *Config
	logger  logger.Logger
	metrics Metrics

	mu     sync.RWMutex
	client pahomqtt.Client
}

// NewPublisher creates a publisher. Connect must be called before publishing.
func NewPublisher(cfg *Config) *Publisher {
	return &Publisher{
		cfg:    cfg,
		logger: cfg.GetLogger().With("component", "telemetry", "broker", cfg.broker),
	}
}

// Metrics returns the publisher counters.
func (p *Publisher) Metrics() *Metrics { return &p.metrics }

// Connect connects to the broker. The client reconnects on its own afterwards.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.broker).
		SetClientID(p.cfg.clientID).
		SetAutoReconnect(true).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(p.cfg.connectTimeout).
		SetOnConnectHandler(func(pahomqtt.Client) { p.logger.Info("connected to broker") }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn("broker connection lost", "error", err)
		})
	if p.cfg.username != "" {
		opts.SetUsername(p.cfg.username)
		opts.SetPassword(p.cfg.password)
	}

	client := pahomqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), p.cfg.connectTimeout); err != nil {
		return fmt.Errorf("telemetry: connect %s: %w", p.cfg.broker, err)
	}

	p.mu.Lock()
	old := p.client
	p.client = client
	p.mu.Unlock()
	if old != nil {
		old.Disconnect(100)
	}

	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

// Topic returns the full topic of a subtopic.
func (p *Publisher) Topic(sub string) string {
	return p.cfg.rootTopic + "/" + sub
}

// Publish encodes v in the configured format and publishes it under the subtopic sub.
func (p *Publisher) Publish(ctx context.Context, sub string, v any) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}

	payload, err := Encode(p.cfg.format, v)
	if err != nil {
		return err
	}

	topic := p.Topic(sub)
	if err := wait(ctx, client.Publish(topic, p.cfg.qos, p.cfg.retain, payload), p.cfg.publishTimeout); err != nil {
		p.metrics.PublishErrCount.Add(1)
		return fmt.Errorf("telemetry: publish %s: %w", topic, err)
	}
	p.metrics.PublishCount.Add(1)
	p.logger.Debug("published", "topic", topic, "bytes", len(payload))

	return nil
}

// PublishStatus publishes a status snapshot.
func (p *Publisher) PublishStatus(ctx context.Context, s *ieb.StatusSnapshot) error {
	return p.Publish(ctx, TopicStatus, s.Report())
}

// PublishEnv publishes an environment snapshot.
func (p *Publisher) PublishEnv(ctx context.Context, e *ieb.EnvSnapshot) error {
	return p.Publish(ctx, TopicEnv, e.Report())
}

// Run polls src at the configured interval and publishes the results until
// ctx is done. Poll and publish failures are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, src Sources) error {
	ticker := time.NewTicker(p.cfg.interval)
	defer ticker.Stop()

	for {
		p.publishOnce(ctx, src)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context, src Sources) {
	if ctrl := src.Controller; ctrl != nil {
		if snap, err := ctrl.Status(ctx); err != nil {
			p.pollFailed("status", err)
		} else {
			p.logPublish(p.PublishStatus(ctx, snap))
		}

		// a partial read still carries the stale channels
		env, err := ctrl.WAGOEnv(ctx)
		if err != nil {
			p.pollFailed("env", err)
		}
		if env != nil {
			p.logPublish(p.PublishEnv(ctx, env))
		}
	}

	if sensors := src.Sensors; sensors != nil {
		if readings, err := sensors.ReadSensors(ctx); err != nil {
			p.pollFailed("wago sensors", err)
		} else {
			p.logPublish(p.Publish(ctx, TopicWAGOSensors, readings))
		}
		if relays, err := sensors.ReadRelays(ctx); err != nil {
			p.pollFailed("wago relays", err)
		} else {
			p.logPublish(p.Publish(ctx, TopicWAGORelays, relays))
		}
	}

	if src.Pressure != nil {
		// failed transducers carry their error in the reading
		readings, err := src.Pressure.ReadAll(ctx)
		if err != nil {
			p.pollFailed("pressure", err)
		}
		if readings != nil {
			p.logPublish(p.Publish(ctx, TopicPressure, readings))
		}
	}

	if src.Depth != nil {
		if m, err := src.Depth.Read(ctx); err != nil {
			p.pollFailed("depth", err)
		} else {
			p.logPublish(p.Publish(ctx, TopicDepth, m))
		}
	}
}

func (p *Publisher) pollFailed(what string, err error) {
	p.metrics.PollErrCount.Add(1)
	p.logger.Warn("telemetry poll failed", "source", what, "error", err)
}

func (p *Publisher) logPublish(err error) {
	if err != nil {
		p.logger.Warn("telemetry publish failed", "error", err)
	}
}

// Encode serializes v as JSON or MessagePack.
func Encode(f Format, v any) ([]byte, error) {
	if f == FormatMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

func wait(ctx context.Context, tok pahomqtt.Token, timeout time.Duration) error {
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBrokerTimeout
	}
}
