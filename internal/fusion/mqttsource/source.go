// Package mqttsource feeds detector readings published over MQTT into fusion.
//
// Each detector publishes JSON to <prefix>/<modality>:
//
//	{"value": 72, "class": "mild", "confidence": 0.9}
//
// The source keeps the latest reading per modality.
package mqttsource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nku/internal/fusion"
	"nku/internal/logging"
	"nku/internal/types"
)

// Options configures a Source.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	// MaxAge drops readings older than this. Zero keeps them forever.
	MaxAge time.Duration
}

type entry struct {
	reading    types.SensorReading
	receivedAt time.Time
}

// Source subscribes to detector topics and serves the latest readings.
type Source struct {
	opts   Options
	client mqtt.Client
	now    func() time.Time

	mu      sync.RWMutex
	latest  map[types.Modality]entry
	dropped int
}

// New creates an unconnected source.
func New(opts Options) *Source {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "nku/readings"
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("nku-fusion-%d", time.Now().Unix())
	}
	return &Source{
		opts:   opts,
		now:    time.Now,
		latest: make(map[types.Modality]entry),
	}
}

// Connect dials the broker and subscribes to <prefix>/+. Subscriptions are
// restored on reconnect.
func (s *Source) Connect(ctx context.Context) error {
	co := mqtt.NewClientOptions()
	co.AddBroker(s.opts.Broker)
	co.SetClientID(s.opts.ClientID)
	if s.opts.Username != "" {
		co.SetUsername(s.opts.Username)
	}
	if s.opts.Password != "" {
		co.SetPassword(s.opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.OnConnect = func(c mqtt.Client) {
		topic := s.opts.TopicPrefix + "/+"
		if token := c.Subscribe(topic, 1, s.onMessage); token.Wait() && token.Error() != nil {
			logging.FusionWarn("mqtt subscribe %s failed: %v", topic, token.Error())
			return
		}
		logging.Fusion("mqtt subscribed to %s", topic)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.FusionWarn("mqtt connection lost: %v", err)
	}

	s.client = mqtt.NewClient(co)
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		s.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.opts.Broker, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *Source) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Source) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.handle(msg.Topic(), msg.Payload()); err != nil {
		logging.FusionWarn("mqtt message on %s dropped: %v", msg.Topic(), err)
	}
}

type payload struct {
	Value      *float64 `json:"value"`
	Class      string   `json:"class"`
	Confidence float64  `json:"confidence"`
}

func (s *Source) handle(topic string, data []byte) error {
	name := topic[strings.LastIndex(topic, "/")+1:]
	m, err := types.ParseModality(name)
	if err != nil {
		s.drop()
		return err
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		s.drop()
		return fmt.Errorf("decode: %w", err)
	}
	class, err := types.ParseSeverityClass(p.Class)
	if err != nil {
		s.drop()
		return err
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		s.drop()
		return fmt.Errorf("confidence %v outside [0,1]", p.Confidence)
	}

	s.mu.Lock()
	s.latest[m] = entry{
		reading:    types.SensorReading{Value: p.Value, Class: class, Confidence: p.Confidence},
		receivedAt: s.now(),
	}
	s.mu.Unlock()
	logging.FusionDebug("mqtt reading for %s (confidence %.2f)", m, p.Confidence)
	return nil
}

func (s *Source) drop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Dropped counts messages that could not be decoded.
func (s *Source) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Latest returns the freshest reading for m.
func (s *Source) Latest(m types.Modality) (types.SensorReading, error) {
	s.mu.RLock()
	e, ok := s.latest[m]
	s.mu.RUnlock()
	if !ok {
		return types.SensorReading{}, fusion.ErrNoReading
	}
	if s.opts.MaxAge > 0 && s.now().Sub(e.receivedAt) > s.opts.MaxAge {
		return types.SensorReading{}, fusion.ErrNoReading
	}
	return e.reading, nil
}

// Reported counts the modalities that currently have a fresh reading.
func (s *Source) Reported() int {
	n := 0
	for _, m := range types.AllModalities {
		if _, err := s.Latest(m); err == nil {
			n++
		}
	}
	return n
}

// Detector adapts one modality of the source to fusion.Detector.
func (s *Source) Detector(m types.Modality) fusion.Detector {
	return detector{src: s, m: m}
}

// Detectors returns one detector per modality.
func (s *Source) Detectors() []fusion.Detector {
	out := make([]fusion.Detector, 0, len(types.AllModalities))
	for _, m := range types.AllModalities {
		out = append(out, s.Detector(m))
	}
	return out
}

type detector struct {
	src *Source
	m   types.Modality
}

func (d detector) Modality() types.Modality { return d.m }

func (d detector) Latest(context.Context) (types.SensorReading, error) {
	return d.src.Latest(d.m)
}
